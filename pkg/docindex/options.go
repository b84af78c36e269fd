package docindex

import (
	"log/slog"
	"time"

	"github.com/serhiybutz/docindexer/internal/store"
	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

// Recorder receives operational measurements from an Indexer.
// internal/metrics provides a Prometheus implementation.
type Recorder interface {
	// RecordMutation is called after every add, remove or property update.
	RecordMutation(op string, err error)

	// RecordFlush is called after every flush. trigger is "explicit",
	// "before_search" or "after_update".
	RecordFlush(trigger string, err error)

	// RecordCompaction is called after every compaction.
	RecordCompaction(err error)

	// RecordSearchBatch is called after every engine batch.
	RecordSearchBatch(hits int, elapsed time.Duration)

	// RecordUncompacted is called whenever a fragmentation estimate is read.
	RecordUncompacted(n int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordMutation(string, error) {}
func (nopRecorder) RecordFlush(string, error) {}
func (nopRecorder) RecordCompaction(error) {}
func (nopRecorder) RecordSearchBatch(int, time.Duration) {}
func (nopRecorder) RecordUncompacted(int64) {}

// Option configures an Indexer.
type Option func(*Indexer)

// WithAutoflush sets the autoflush strategy. Default: AutoflushNone.
func WithAutoflush(s AutoflushStrategy) Option {
	return func(ix *Indexer) {
		ix.autoflush = s
	}
}

// WithPreserver enables fragmentation tracking. Without a preserver
// UncompactedDocuments reports the estimate as unavailable.
func WithPreserver(p fragmentation.Preserver) Option {
	return func(ix *Indexer) {
		ix.preserver = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithRecorder sets the measurement sink.
func WithRecorder(r Recorder) Option {
	return func(ix *Indexer) {
		if r != nil {
			ix.recorder = r
		}
	}
}

// WithBackend selects the engine for InMemory and CreateOnDisk backings:
// "sqlite" (default) or "bleve". OpenOnDisk detects the engine from the path.
func WithBackend(backend string) Option {
	return func(ix *Indexer) {
		ix.backend = backend
	}
}

// withEngine bypasses Backing and uses e directly.
func withEngine(e store.Engine) Option {
	return func(ix *Indexer) {
		ix.engine = e
	}
}
