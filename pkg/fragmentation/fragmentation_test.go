package fragmentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	maxID int64
	count int64
	err   error
}

func (f *fakeCounter) MaximumDocumentID(context.Context) (int64, error) { return f.maxID, f.err }
func (f *fakeCounter) DocumentCount(context.Context) (int64, error)     { return f.count, f.err }

type failingPreserver struct{ err error }

func (p failingPreserver) Preserve(context.Context, Snapshot) error { return p.err }
func (p failingPreserver) Restore(context.Context) (Snapshot, error) {
	return Snapshot{}, p.err
}

func TestUncompacted(t *testing.T) {
	tests := []struct {
		name     string
		current  Snapshot
		snapshot Snapshot
		want     int64
	}{
		{"fresh", Snapshot{0, 0}, Snapshot{0, 0}, 0},
		{"only additions", Snapshot{10, 10}, Snapshot{0, 0}, 0},
		{"half removed", Snapshot{10, 5}, Snapshot{0, 0}, 5},
		{"reindex allocates new ids", Snapshot{13, 10}, Snapshot{10, 10}, 3},
		{"after compaction", Snapshot{10, 5}, Snapshot{10, 5}, 0},
		{"removed docs indexed before snapshot", Snapshot{10, 3}, Snapshot{10, 5}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Uncompacted(tt.current, tt.snapshot))
		})
	}
}

func TestTracker_NoPreserverIsUnavailable(t *testing.T) {
	tr := NewTracker(nil, nil)
	c := &fakeCounter{maxID: 10, count: 2}

	require.NoError(t, tr.OnIndexCreated(context.Background(), c))
	n, ok := tr.UncompactedDocuments(context.Background(), c)

	assert.False(t, tr.Enabled())
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryPreserver(), nil)
	c := &fakeCounter{}

	// Given: a freshly created index
	require.NoError(t, tr.OnIndexCreated(ctx, c))
	n, ok := tr.UncompactedDocuments(ctx, c)
	require.True(t, ok)
	assert.Equal(t, int64(0), n)

	// When: 10 documents are added and 5 removed
	c.maxID, c.count = 10, 5
	n, ok = tr.UncompactedDocuments(ctx, c)
	require.True(t, ok)
	assert.Equal(t, int64(5), n)

	// Then: compaction resets the estimate
	require.NoError(t, tr.OnCompactionCompleted(ctx, c))
	n, ok = tr.UncompactedDocuments(ctx, c)
	require.True(t, ok)
	assert.Equal(t, int64(0), n)
}

func TestTracker_RestoreFailureIsUnavailable(t *testing.T) {
	tr := NewTracker(NewMemoryPreserver(), nil)

	// Nothing preserved yet
	_, ok := tr.UncompactedDocuments(context.Background(), &fakeCounter{})
	assert.False(t, ok)
}

func TestTracker_PreserveFailure(t *testing.T) {
	want := errors.New("disk full")
	tr := NewTracker(failingPreserver{err: want}, nil)

	err := tr.OnCompactionCompleted(context.Background(), &fakeCounter{})

	assert.ErrorIs(t, err, want)
}

func TestTracker_CounterFailure(t *testing.T) {
	want := errors.New("engine closed")
	tr := NewTracker(NewMemoryPreserver(), nil)

	err := tr.OnIndexCreated(context.Background(), &fakeCounter{err: want})
	assert.ErrorIs(t, err, want)

	_, ok := tr.UncompactedDocuments(context.Background(), &fakeCounter{err: want})
	assert.False(t, ok)
}

func TestMemoryPreserver(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPreserver()

	_, err := p.Restore(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, p.Preserve(ctx, Snapshot{MaxDocumentID: 7, DocumentCount: 3}))
	got, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{MaxDocumentID: 7, DocumentCount: 3}, got)
}
