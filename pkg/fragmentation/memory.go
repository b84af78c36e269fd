package fragmentation

import (
	"context"
	"sync"
)

// MemoryPreserver keeps the snapshot in process memory. It suits in-memory
// indexes, whose fragmentation state dies with the process anyway.
type MemoryPreserver struct {
	mu       sync.Mutex
	snapshot Snapshot
	set      bool
}

// NewMemoryPreserver returns an empty MemoryPreserver.
func NewMemoryPreserver() *MemoryPreserver {
	return &MemoryPreserver{}
}

// Preserve implements Preserver.
func (p *MemoryPreserver) Preserve(_ context.Context, s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = s
	p.set = true
	return nil
}

// Restore implements Preserver.
func (p *MemoryPreserver) Restore(_ context.Context) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return Snapshot{}, ErrNoSnapshot
	}
	return p.snapshot, nil
}

var _ Preserver = (*MemoryPreserver)(nil)
