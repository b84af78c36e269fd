package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serhiybutz/docindexer/pkg/docindex"
	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

type fakeTarget struct {
	mu          sync.Mutex
	uncompacted int64
	tracking    bool
	compactErr  error
	flushErr    error
	compacts    int
	flushes     int
}

func (f *fakeTarget) UncompactedDocuments(context.Context) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uncompacted, f.tracking
}

func (f *fakeTarget) Compact(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compacts++
	if f.compactErr != nil {
		return f.compactErr
	}
	f.uncompacted = 0
	return nil
}

func (f *fakeTarget) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

func (f *fakeTarget) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compacts, f.flushes
}

func TestCheck_FragmentationUnavailable(t *testing.T) {
	target := &fakeTarget{uncompacted: 100}
	m := NewManager(target, Config{Threshold: 1}, nil)

	res := m.Check(context.Background())

	assert.False(t, res.Compacted)
	assert.Equal(t, "fragmentation_unavailable", res.Reason)
	compacts, _ := target.counts()
	assert.Zero(t, compacts)
}

func TestCheck_BelowThreshold(t *testing.T) {
	target := &fakeTarget{uncompacted: 4, tracking: true}
	m := NewManager(target, Config{Threshold: 5}, nil)

	res := m.Check(context.Background())

	assert.False(t, res.Compacted)
	assert.Equal(t, "below_threshold", res.Reason)
	assert.Equal(t, int64(4), res.Uncompacted)
}

func TestCheck_CompactsThenFlushes(t *testing.T) {
	// Given: an index at the threshold
	target := &fakeTarget{uncompacted: 5, tracking: true}
	m := NewManager(target, Config{Threshold: 5}, nil)

	// When: checking
	res := m.Check(context.Background())

	// Then: it compacts once and flushes
	assert.True(t, res.Compacted)
	assert.NoError(t, res.Err)
	compacts, flushes := target.counts()
	assert.Equal(t, 1, compacts)
	assert.Equal(t, 1, flushes)
}

func TestCheck_Cooldown(t *testing.T) {
	// Given: a manager with a controllable clock
	target := &fakeTarget{uncompacted: 10, tracking: true}
	m := NewManager(target, Config{Threshold: 1, Cooldown: time.Hour}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.True(t, m.Check(context.Background()).Compacted)

	// When: debt builds up again within the cooldown
	target.mu.Lock()
	target.uncompacted = 10
	target.mu.Unlock()
	now = now.Add(30 * time.Minute)
	res := m.Check(context.Background())

	// Then: it waits
	assert.False(t, res.Compacted)
	assert.Equal(t, "cooldown", res.Reason)

	// And: compacts once the cooldown elapsed
	now = now.Add(31 * time.Minute)
	assert.True(t, m.Check(context.Background()).Compacted)
}

func TestCheck_CompactFailure(t *testing.T) {
	boom := errors.New("disk full")
	target := &fakeTarget{uncompacted: 3, tracking: true, compactErr: boom}
	m := NewManager(target, Config{Threshold: 1, Cooldown: time.Hour}, nil)

	res := m.Check(context.Background())

	assert.False(t, res.Compacted)
	assert.ErrorIs(t, res.Err, boom)
	_, flushes := target.counts()
	assert.Zero(t, flushes)

	// A failed compaction does not start the cooldown.
	target.mu.Lock()
	target.compactErr = nil
	target.mu.Unlock()
	assert.True(t, m.Check(context.Background()).Compacted)
}

func TestCheck_FlushFailureStillCompacted(t *testing.T) {
	boom := errors.New("flush failed")
	target := &fakeTarget{uncompacted: 3, tracking: true, flushErr: boom}
	m := NewManager(target, Config{Threshold: 1}, nil)

	res := m.Check(context.Background())

	assert.True(t, res.Compacted)
	assert.ErrorIs(t, res.Err, boom)
}

func TestStartStop(t *testing.T) {
	// Given: a running manager polling quickly
	target := &fakeTarget{uncompacted: 3, tracking: true}
	m := NewManager(target, Config{Threshold: 1, CheckInterval: 10 * time.Millisecond, Cooldown: time.Hour}, nil)
	m.Start(context.Background())
	m.Start(context.Background())

	// Then: it compacts in the background
	require.Eventually(t, func() bool {
		compacts, _ := target.counts()
		return compacts == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestStop_WithoutStart(t *testing.T) {
	m := NewManager(&fakeTarget{}, Config{}, nil)

	assert.NotPanics(t, m.Stop)
}

func TestCheck_RealIndex(t *testing.T) {
	// Given: an in-memory index tracking fragmentation
	ctx := context.Background()
	ix, err := docindex.New(ctx, docindex.InMemory{},
		docindex.WithPreserver(fragmentation.NewMemoryPreserver()),
		docindex.WithAutoflush(docindex.AutoflushAfterEachUpdate))
	require.NoError(t, err)
	defer ix.Close()

	for i := 0; i < 4; i++ {
		ref := docindex.MustParseDocumentURL(fmt.Sprintf("mem://notes/%d", i))
		require.NoError(t, ix.IndexDocument(ctx, ref, "tomatoes and basil"))
	}
	for i := 0; i < 3; i++ {
		ref := docindex.MustParseDocumentURL(fmt.Sprintf("mem://notes/%d", i))
		require.NoError(t, ix.RemoveDocument(ctx, ref))
	}

	// When: checking against a threshold the debt meets
	m := NewManager(ix, Config{Threshold: 3}, nil)
	res := m.Check(ctx)

	// Then: the debt is cleared
	require.NoError(t, res.Err)
	assert.True(t, res.Compacted)
	assert.Equal(t, int64(3), res.Uncompacted)
	n, ok := ix.UncompactedDocuments(ctx)
	assert.True(t, ok)
	assert.Zero(t, n)
}
