// Package gate provides the write gate that serializes index mutations.
package gate

import (
	"context"
	"sync"
)

type ownerKey struct{ g *Gate }

// Gate is a mutual-exclusion lock that is reentrant for its logical owner.
//
// Ownership travels in the context handed to the action: a nested Do called
// with that context (or one derived from it) runs without re-acquiring the
// lock. Any other caller blocks until the outermost Do returns.
type Gate struct {
	mu sync.Mutex
}

// New returns an unlocked gate.
func New() *Gate {
	return &Gate{}
}

// Do runs fn while holding the gate. The lock is released on every exit path,
// including a panic in fn.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.Held(ctx) {
		return fn(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return fn(context.WithValue(ctx, ownerKey{g}, struct{}{}))
}

// Held reports whether ctx carries ownership of g.
func (g *Gate) Held(ctx context.Context) bool {
	return ctx.Value(ownerKey{g}) != nil
}
