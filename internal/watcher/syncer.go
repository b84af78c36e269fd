package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

// Index is the part of *docindex.Indexer the syncer drives.
type Index interface {
	IndexFileDocument(ctx context.Context, ref docindex.FileDocumentURL, mimeHint string) error
	RemoveDocument(ctx context.Context, ref docindex.DocumentURL) error
}

// Stats counts the outcome of a sync.
type Stats struct {
	Indexed int64
	Removed int64
	Failed  int64
}

type counters struct {
	indexed, removed, failed atomic.Int64
}

func (c *counters) stats() Stats {
	return Stats{Indexed: c.indexed.Load(), Removed: c.removed.Load(), Failed: c.failed.Load()}
}

// Syncer applies file changes to an index. Per-file failures are logged and
// counted, never returned.
type Syncer struct {
	index   Index
	filter  Filter
	workers int
	logger  *slog.Logger
	flush   func(context.Context) error
}

// NewSyncer creates a syncer running up to workers files in parallel.
func NewSyncer(index Index, filter Filter, workers int, logger *slog.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		index:   index,
		filter:  filter,
		workers: workers,
		logger:  logger.With("component", "syncer"),
	}
}

// IndexTree indexes every accepted file below root. root may also be a
// single file, which is indexed regardless of the filter.
func (s *Syncer) IndexTree(ctx context.Context, root string) (Stats, error) {
	var c counters
	err := s.indexTree(ctx, root, &c)
	return c.stats(), err
}

func (s *Syncer) indexTree(ctx context.Context, root string, c *counters) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warn("walk_failed", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if d.IsDir() {
			if path != root && !s.filter.Dir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if path != root && !s.filter.File(path) {
			return nil
		}
		g.Go(func() error {
			s.indexFile(gctx, path, c)
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", root, walkErr)
	}
	return ctx.Err()
}

func (s *Syncer) indexFile(ctx context.Context, path string, c *counters) {
	ref, err := docindex.NewFileDocumentURL(path)
	if err == nil {
		err = s.index.IndexFileDocument(ctx, ref, "")
	}
	if err != nil {
		c.failed.Add(1)
		s.logger.LogAttrs(ctx, slog.LevelWarn, "index_file_failed",
			append([]slog.Attr{slog.String("path", path)}, ierrors.LogAttrs(err)...)...)
		return
	}
	c.indexed.Add(1)
}

func (s *Syncer) removeFile(ctx context.Context, path string, c *counters) {
	ref, err := docindex.NewFileDocumentURL(path)
	if err == nil {
		err = s.index.RemoveDocument(ctx, ref.DocumentURL)
	}
	switch {
	case err == nil:
		c.removed.Add(1)
	case errors.Is(err, docindex.ErrDocumentNotFound):
		// Never indexed, or a directory.
	default:
		c.failed.Add(1)
		s.logger.LogAttrs(ctx, slog.LevelWarn, "remove_file_failed",
			append([]slog.Attr{slog.String("path", path)}, ierrors.LogAttrs(err)...)...)
	}
}

// FlushAfterBatch makes Run call fn after every batch that changed the
// index. A failed flush is logged.
func (s *Syncer) FlushAfterBatch(fn func(context.Context) error) {
	s.flush = fn
}

// Apply applies one batch of events.
func (s *Syncer) Apply(ctx context.Context, batch []FileEvent) Stats {
	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, ev := range batch {
		g.Go(func() error {
			switch ev.Operation {
			case OpCreate, OpModify:
				if ev.IsDir {
					_ = s.indexTree(gctx, ev.Path, &c)
					return nil
				}
				s.indexFile(gctx, ev.Path, &c)
			case OpDelete, OpRename:
				s.removeFile(gctx, ev.Path, &c)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := c.stats()
	s.logger.Debug("batch_applied",
		slog.Int("events", len(batch)),
		slog.Int64("indexed", stats.Indexed),
		slog.Int64("removed", stats.Removed),
		slog.Int64("failed", stats.Failed))
	return stats
}

// Run applies batches until events is closed or ctx is done.
func (s *Syncer) Run(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			stats := s.Apply(ctx, batch)
			if s.flush == nil || stats.Indexed+stats.Removed == 0 {
				continue
			}
			if err := s.flush(ctx); err != nil {
				s.logger.Warn("batch_flush_failed", slog.String("error", err.Error()))
			}
		}
	}
}
