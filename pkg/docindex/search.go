package docindex

import (
	"context"
	"iter"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/internal/store"
)

type searchState int

const (
	searchReady searchState = iota
	searchInProgress
	searchDone
)

// Search is a search in progress. Each call to Next asks the engine for at
// most HitsPerBatch further matches, spending at most MaxTimePerBatch.
//
// Behavior:
//   - Nothing is matched until the first Next.
//   - A batch may be empty while more is true: the time budget ran out
//     before a match was found. Keep calling Next.
//   - Once more is false the search is done and Next keeps returning
//     (nil, false, nil) without touching the engine.
//   - Matches whose document was removed meanwhile are dropped.
//   - Next after Cancel panics.
//
// Next calls are serialized; Cancel may be called from any goroutine and
// takes effect between batches.
type Search struct {
	id       string
	engine   store.Engine
	search   store.Search
	request  SearchRequest
	logger   *slog.Logger
	recorder Recorder

	mu        sync.Mutex
	state     searchState
	cancelled atomic.Bool
	cleanup   runtime.Cleanup
}

func newSearch(ix *Indexer, es store.Search, req SearchRequest) *Search {
	s := &Search{
		id:       uuid.NewString(),
		engine:   ix.engine,
		search:   es,
		request:  req,
		recorder: ix.recorder,
	}
	s.logger = ix.logger.With(slog.String("search_id", s.id))
	// An abandoned search still releases its engine search.
	s.cleanup = runtime.AddCleanup(s, func(es store.Search) { es.Cancel() }, es)
	return s
}

// ID identifies the search in logs.
func (s *Search) ID() string {
	return s.id
}

// Request returns the request the search was created with.
func (s *Search) Request() SearchRequest {
	return s.request
}

// Done reports whether the search has produced its final batch.
func (s *Search) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == searchDone
}

// Next returns the next batch of hits, best match first. more is false on
// the final batch.
func (s *Search) Next(ctx context.Context) (hits []SearchHit, more bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled.Load() {
		panic("docindex: Next called on a cancelled search")
	}
	if s.state == searchDone {
		return nil, false, nil
	}
	s.state = searchInProgress

	start := time.Now()
	batch, err := s.search.FindMatches(ctx, s.request.HitsPerBatch, s.request.MaxTimePerBatch)
	if err != nil {
		s.finish()
		if s.cancelled.Load() {
			return nil, false, nil
		}
		return nil, false, ierrors.New(ierrors.ErrCodeSearchFailed, "failed to find matches", err)
	}

	hits, err = s.resolve(ctx, batch)
	if err != nil {
		s.finish()
		return nil, false, ierrors.New(ierrors.ErrCodeSearchFailed, "failed to resolve matches", err)
	}
	s.recorder.RecordSearchBatch(len(hits), time.Since(start))

	if !batch.More {
		s.finish()
		return hits, false, nil
	}
	if len(batch.IDs) == 0 {
		s.logger.Info("search_batch_empty",
			slog.Duration("max_time_per_batch", s.request.MaxTimePerBatch))
	}
	return hits, true, nil
}

func (s *Search) resolve(ctx context.Context, batch store.Batch) ([]SearchHit, error) {
	if len(batch.IDs) == 0 {
		return nil, nil
	}

	refs, err := s.engine.ResolveDocuments(ctx, batch.IDs)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(refs))
	dropped := 0
	for i, ref := range refs {
		if ref == "" {
			dropped++
			continue
		}
		u, err := ParseDocumentURL(ref)
		if err != nil {
			dropped++
			continue
		}
		var score float32
		if i < len(batch.Scores) {
			score = batch.Scores[i]
		}
		hits = append(hits, SearchHit{Document: u, Score: score})
	}

	if dropped > 0 {
		s.logger.Debug("search_hits_dropped", slog.Int("count", dropped))
	}
	return hits, nil
}

// finish releases the engine search once no more batches will be requested.
func (s *Search) finish() {
	s.state = searchDone
	s.release()
}

func (s *Search) release() {
	s.cleanup.Stop()
	s.search.Cancel()
}

// Cancel stops the search and releases the engine search. It is idempotent
// and safe to call concurrently with Next.
func (s *Search) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.release()
	}
}

// All ranges over the remaining batches. Iteration ends after the final
// batch, on the first error, or when ctx is done.
func (s *Search) All(ctx context.Context) iter.Seq2[[]SearchHit, error] {
	return func(yield func([]SearchHit, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			hits, more, err := s.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(hits, nil) || !more {
				return
			}
		}
	}
}
