// Package fragmentation estimates how many index slots are held by removed
// or superseded documents since the last compaction.
//
// The estimate compares the engine's current counters with a Snapshot taken
// at index creation and after every successful compaction:
//
//	uncompacted = (current.MaxDocumentID - snapshot.MaxDocumentID)
//	            - (current.DocumentCount - snapshot.DocumentCount)
//
// Document IDs are allocated monotonically, so every ID allocated since the
// snapshot that no longer maps to a live document counts as debt.
package fragmentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Snapshot records the engine counters at a point in time.
type Snapshot struct {
	MaxDocumentID int64 `json:"max_document_id" yaml:"max_document_id"`
	DocumentCount int64 `json:"document_count" yaml:"document_count"`
}

// ErrNoSnapshot is returned by Preserver.Restore when nothing was preserved yet.
var ErrNoSnapshot = errors.New("no fragmentation snapshot preserved")

// Preserver persists the snapshot between process runs.
//
// Behavior:
//   - Preserve replaces any previously preserved snapshot.
//   - Restore returns the last preserved snapshot, or ErrNoSnapshot.
type Preserver interface {
	Preserve(ctx context.Context, s Snapshot) error
	Restore(ctx context.Context) (Snapshot, error)
}

// Counter reads the current counters of an index.
type Counter interface {
	MaximumDocumentID(ctx context.Context) (int64, error)
	DocumentCount(ctx context.Context) (int64, error)
}

// Uncompacted applies the fragmentation formula.
func Uncompacted(current, snapshot Snapshot) int64 {
	return (current.MaxDocumentID - snapshot.MaxDocumentID) - (current.DocumentCount - snapshot.DocumentCount)
}

// Read takes a snapshot of c.
func Read(ctx context.Context, c Counter) (Snapshot, error) {
	maxID, err := c.MaximumDocumentID(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read maximum document id: %w", err)
	}
	count, err := c.DocumentCount(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read document count: %w", err)
	}
	return Snapshot{MaxDocumentID: maxID, DocumentCount: count}, nil
}

// Tracker maintains the snapshot through a Preserver. A Tracker without a
// Preserver reports the estimate as unavailable. It never triggers
// compaction itself.
type Tracker struct {
	preserver Preserver
	logger    *slog.Logger
}

// NewTracker creates a tracker. preserver may be nil.
func NewTracker(preserver Preserver, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{preserver: preserver, logger: logger}
}

// Enabled reports whether a Preserver is configured.
func (t *Tracker) Enabled() bool {
	return t.preserver != nil
}

// OnIndexCreated records the baseline of a freshly created index.
func (t *Tracker) OnIndexCreated(ctx context.Context, c Counter) error {
	return t.record(ctx, c, "index_created")
}

// OnCompactionCompleted resets the baseline after a successful compaction.
func (t *Tracker) OnCompactionCompleted(ctx context.Context, c Counter) error {
	return t.record(ctx, c, "compaction_completed")
}

func (t *Tracker) record(ctx context.Context, c Counter, reason string) error {
	if t.preserver == nil {
		return nil
	}

	s, err := Read(ctx, c)
	if err != nil {
		return err
	}
	if err := t.preserver.Preserve(ctx, s); err != nil {
		return fmt.Errorf("failed to preserve snapshot: %w", err)
	}

	t.logger.Debug("fragmentation_snapshot",
		slog.String("reason", reason),
		slog.Int64("max_document_id", s.MaxDocumentID),
		slog.Int64("document_count", s.DocumentCount))
	return nil
}

// UncompactedDocuments returns the current estimate. ok is false when no
// Preserver is configured or the snapshot cannot be read.
func (t *Tracker) UncompactedDocuments(ctx context.Context, c Counter) (n int64, ok bool) {
	if t.preserver == nil {
		return 0, false
	}

	snapshot, err := t.preserver.Restore(ctx)
	if err != nil {
		t.logger.Warn("fragmentation_restore_failed", slog.String("error", err.Error()))
		return 0, false
	}
	current, err := Read(ctx, c)
	if err != nil {
		t.logger.Warn("fragmentation_counters_failed", slog.String("error", err.Error()))
		return 0, false
	}

	return Uncompacted(current, snapshot), true
}
