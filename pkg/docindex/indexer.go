// Package docindex maintains a full-text index of documents identified by
// URL.
//
// An Indexer owns exactly one engine handle. Mutations (index, remove,
// property updates, flush, compact) are serialized through a write gate;
// searches and counter reads are not. Searches are pulled in bounded batches
// through Search, so a caller can stream results, stop early, or observe an
// empty batch while a slow search is still running.
//
// Fragmentation tracking is optional: with a Preserver configured, the
// indexer keeps a snapshot of its counters at creation and after every
// compaction, and UncompactedDocuments estimates how many removed or
// superseded documents are still occupying the index.
package docindex

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/internal/extract"
	"github.com/serhiybutz/docindexer/internal/gate"
	"github.com/serhiybutz/docindexer/internal/store"
	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

// Indexer is a document index. It is safe for concurrent use.
type Indexer struct {
	engine    store.Engine
	gate      *gate.Gate
	autoflush AutoflushStrategy
	preserver fragmentation.Preserver
	tracker   *fragmentation.Tracker
	logger    *slog.Logger
	recorder  Recorder
	backend   string

	closeOnce sync.Once
	closeErr  error
}

// Ensure Indexer can feed the fragmentation tracker.
var _ fragmentation.Counter = (*Indexer)(nil)

// New creates or opens an index according to b.
//
// For InMemory and CreateOnDisk backings the fragmentation baseline is
// preserved right away when a Preserver is configured. A failure to preserve
// it is logged and does not fail construction.
func New(ctx context.Context, b Backing, opts ...Option) (*Indexer, error) {
	ix := &Indexer{
		gate:     gate.New(),
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With(slog.String("component", "docindex"))
	ix.tracker = fragmentation.NewTracker(ix.preserver, ix.logger)

	if b == nil {
		return nil, ierrors.New(ierrors.ErrCodeConstructionFailed, "failed to construct index", errors.New("no backing given"))
	}

	created := false
	if ix.engine == nil {
		e, isNew, err := openEngine(b, ix.backend)
		if err != nil {
			return nil, constructionError(b, err)
		}
		ix.engine, created = e, isNew
	} else {
		_, isOpen := b.(OpenOnDisk)
		created = !isOpen
	}

	info := ix.engine.Info()
	ix.logger.Debug("index_opened",
		slog.String("backend", string(info.Backend)),
		slog.String("path", info.Path),
		slog.Bool("created", created),
		slog.String("autoflush", ix.autoflush.String()))

	if created {
		if err := ix.tracker.OnIndexCreated(ctx, ix); err != nil {
			ix.logger.Warn("fragmentation_baseline_failed", slog.String("error", err.Error()))
		}
	}
	return ix, nil
}

func openEngine(b Backing, backend string) (store.Engine, bool, error) {
	switch b := b.(type) {
	case InMemory:
		e, err := store.Create(store.Backend(backend), "", b.Config.storeConfig())
		return e, true, err
	case CreateOnDisk:
		if b.Path == "" {
			return nil, false, errors.New("index path is empty")
		}
		e, err := store.Create(store.Backend(backend), b.Path, b.Config.storeConfig())
		return e, true, err
	case OpenOnDisk:
		if b.Path == "" {
			return nil, false, errors.New("index path is empty")
		}
		e, err := store.Open(b.Path)
		return e, false, err
	default:
		return nil, false, errors.New("unknown backing")
	}
}

func constructionError(b Backing, err error) *Error {
	e := ierrors.New(ierrors.ErrCodeConstructionFailed, "failed to construct index", err)
	switch b := b.(type) {
	case CreateOnDisk:
		e.WithDetail("path", b.Path)
		if errors.Is(err, store.ErrIndexExists) {
			e.WithSuggestion("open the existing index or choose another path")
		}
	case OpenOnDisk:
		e.WithDetail("path", b.Path)
		if errors.Is(err, store.ErrIndexNotFound) {
			e.WithSuggestion("create the index first")
		}
	}
	return e
}

// Autoflush returns the autoflush strategy.
func (ix *Indexer) Autoflush() AutoflushStrategy {
	return ix.autoflush
}

// IndexDocument indexes text under ref, replacing any previous version.
func (ix *Indexer) IndexDocument(ctx context.Context, ref DocumentURL, text string) error {
	if ref.IsZero() {
		return ierrors.ValidationError("document url is empty", nil)
	}

	err := ix.gate.Do(ctx, func(ctx context.Context) error {
		if err := ix.engine.AddDocument(ctx, ref.String(), text); err != nil {
			return ierrors.New(ierrors.ErrCodeIndexingFailed, "failed to index document", err).WithDocument(ref.String())
		}
		ix.flushAfterUpdate(ctx)
		return nil
	})
	ix.recorder.RecordMutation("index", err)
	return err
}

// IndexFileDocument indexes the contents of a local file. mimeHint may be
// empty, in which case the type is detected from the file extension.
func (ix *Indexer) IndexFileDocument(ctx context.Context, ref FileDocumentURL, mimeHint string) error {
	if ref.IsZero() {
		return ierrors.ValidationError("document url is empty", nil)
	}

	extract.LoadDefaultExtractors()
	text, err := extract.File(ref.Path(), mimeHint)
	if err != nil {
		ix.recorder.RecordMutation("index", err)
		return ierrors.New(ierrors.ErrCodeIndexingFailed, "failed to read document", err).WithDocument(ref.String())
	}
	return ix.IndexDocument(ctx, ref.DocumentURL, text)
}

// RemoveDocument removes ref from the index. Removing a document that is not
// indexed fails with an error matching ErrDocumentNotFound.
func (ix *Indexer) RemoveDocument(ctx context.Context, ref DocumentURL) error {
	err := ix.gate.Do(ctx, func(ctx context.Context) error {
		if err := ix.engine.RemoveDocument(ctx, ref.String()); err != nil {
			return ierrors.New(ierrors.ErrCodeRemovalFailed, "failed to remove document", err).WithDocument(ref.String())
		}
		ix.flushAfterUpdate(ctx)
		return nil
	})
	ix.recorder.RecordMutation("remove", err)
	return err
}

// SetDocumentProperties replaces the properties attached to ref. Values must
// be JSON-encodable.
func (ix *Indexer) SetDocumentProperties(ctx context.Context, ref DocumentURL, props map[string]any) error {
	err := ix.gate.Do(ctx, func(ctx context.Context) error {
		if err := ix.engine.SetProperties(ctx, ref.String(), props); err != nil {
			return ierrors.New(ierrors.ErrCodePropertiesFailed, "failed to set document properties", err).WithDocument(ref.String())
		}
		return nil
	})
	ix.recorder.RecordMutation("set_properties", err)
	return err
}

// DocumentProperties returns the properties attached to ref, or nil when it
// has none.
func (ix *Indexer) DocumentProperties(ctx context.Context, ref DocumentURL) (map[string]any, error) {
	props, err := ix.engine.Properties(ctx, ref.String())
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodePropertiesFailed, "failed to read document properties", err).WithDocument(ref.String())
	}
	return props, nil
}

// Flush commits buffered mutations so that searches see them.
func (ix *Indexer) Flush(ctx context.Context) error {
	return ix.flush(ctx, "explicit")
}

func (ix *Indexer) flush(ctx context.Context, trigger string) error {
	err := ix.gate.Do(ctx, func(ctx context.Context) error {
		if err := ix.engine.Flush(ctx); err != nil {
			return ierrors.New(ierrors.ErrCodeFlushFailed, "failed to flush index", err)
		}
		return nil
	})
	ix.recorder.RecordFlush(trigger, err)
	return err
}

// flushAfterUpdate runs inside the gate. Failures are logged only.
func (ix *Indexer) flushAfterUpdate(ctx context.Context) {
	if !ix.autoflush.FlushAfterUpdate() {
		return
	}
	if err := ix.flush(ctx, "after_update"); err != nil {
		ix.logger.Warn("autoflush_failed",
			slog.String("trigger", "after_update"),
			slog.String("error", err.Error()))
	}
}

func (ix *Indexer) flushBeforeSearch(ctx context.Context) {
	if !ix.autoflush.FlushBeforeSearch() {
		return
	}
	if err := ix.flush(ctx, "before_search"); err != nil {
		ix.logger.Warn("autoflush_failed",
			slog.String("trigger", "before_search"),
			slog.String("error", err.Error()))
	}
}

// Compact reclaims the space held by removed and superseded documents. On
// success the fragmentation baseline is reset.
func (ix *Indexer) Compact(ctx context.Context) error {
	err := ix.gate.Do(ctx, func(ctx context.Context) error {
		if err := ix.engine.Compact(ctx); err != nil {
			return ierrors.New(ierrors.ErrCodeCompactFailed, "failed to compact index", err)
		}
		if err := ix.tracker.OnCompactionCompleted(ctx, ix); err != nil {
			ix.logger.Warn("fragmentation_baseline_failed", slog.String("error", err.Error()))
		}
		return nil
	})
	ix.recorder.RecordCompaction(err)
	return err
}

// DocumentCount returns the number of live documents. It does not wait for
// in-flight mutations.
func (ix *Indexer) DocumentCount(ctx context.Context) (int64, error) {
	return ix.engine.DocumentCount(ctx)
}

// MaximumDocumentID returns the highest document ID the engine has
// allocated. It does not wait for in-flight mutations.
func (ix *Indexer) MaximumDocumentID(ctx context.Context) (int64, error) {
	return ix.engine.MaxDocumentID(ctx)
}

// UncompactedDocuments estimates how many removed or superseded documents
// still occupy the index. ok is false when no Preserver is configured or the
// baseline cannot be read.
func (ix *Indexer) UncompactedDocuments(ctx context.Context) (n int64, ok bool) {
	n, ok = ix.tracker.UncompactedDocuments(ctx, ix)
	if ok {
		ix.recorder.RecordUncompacted(n)
	}
	return n, ok
}

// FragmentationTracking reports whether a Preserver is configured.
func (ix *Indexer) FragmentationTracking() bool {
	return ix.tracker.Enabled()
}

// NewSearch prepares a search. No matching happens until the first
// Search.Next. HitsPerBatch must be positive.
func (ix *Indexer) NewSearch(ctx context.Context, req SearchRequest) (*Search, error) {
	if req.HitsPerBatch <= 0 {
		return nil, ierrors.ValidationError("hits per batch must be positive", nil).
			WithDetail("hits_per_batch", strconv.Itoa(req.HitsPerBatch))
	}
	if req.MaxTimePerBatch < 0 {
		return nil, ierrors.ValidationError("max time per batch must not be negative", nil)
	}

	ix.flushBeforeSearch(ctx)

	es, err := ix.engine.NewSearch(ctx, req.Query, store.SearchOption(req.Options))
	if err != nil {
		code := ierrors.ErrCodeSearchFailed
		if errors.Is(err, store.ErrUnsupportedSearch) {
			code = ierrors.ErrCodeUnsupportedSearch
		}
		return nil, ierrors.New(code, "failed to create search", err)
	}
	return newSearch(ix, es, req), nil
}

// SearchEach runs a search to completion, calling fn once per batch. The
// last call has hasMore == false. fn returns true to stop early. ctx is
// checked between batches.
//
// fn is always called at least once: when no batch can be produced (the
// request is invalid, the engine fails or ctx is done first) it is called
// with no hits and hasMore == false before the error is returned. When
// req.HitsPerBatch is not positive no search is run and SearchEach
// returns nil.
func (ix *Indexer) SearchEach(ctx context.Context, req SearchRequest, fn func(hits []SearchHit, hasMore bool) (stop bool)) error {
	called := false
	defer func() {
		if !called {
			fn(nil, false)
		}
	}()

	if req.HitsPerBatch <= 0 {
		return nil
	}

	s, err := ix.NewSearch(ctx, req)
	if err != nil {
		return err
	}
	defer s.Cancel()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hits, more, err := s.Next(ctx)
		if err != nil {
			return err
		}
		called = true
		if fn(hits, more) || !more {
			return nil
		}
	}
}

// Info describes the index.
func (ix *Indexer) Info() Info {
	info := ix.engine.Info()
	return Info{
		Backend: string(info.Backend),
		Path:    info.Path,
		Config: IndexConfig{
			Type:         IndexType(info.Config.IndexType),
			TextAnalysis: textAnalysisFromConfig(info.Config.Analysis),
		},
	}
}

// Close flushes and releases the index. Only the first call has any effect;
// later calls return its result. Searches must not be used after Close.
func (ix *Indexer) Close() error {
	ix.closeOnce.Do(func() {
		ix.closeErr = ix.gate.Do(context.Background(), func(context.Context) error {
			return ix.engine.Close()
		})
		ix.logger.Debug("index_closed")
	})
	return ix.closeErr
}
