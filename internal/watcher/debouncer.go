package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path so that an editor's burst of
// writes reaches the index once. Merging rules, by the first and latest
// operation seen for a path within the window:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// Otherwise the latest operation wins.
type Debouncer struct {
	window time.Duration
	output chan []FileEvent
	stopCh chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	stopped bool
	flushes sync.WaitGroup
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a new debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
		stopCh:  make(chan struct{}),
	}
}

// Add adds an event to be debounced and restarts the window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing.firstOp, existing.event, event)
		if !keep {
			delete(d.pending, event.Path)
		} else {
			existing.event = merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	d.scheduleFlush()
}

// coalesce merges next into current. keep is false when the two cancel out.
func coalesce(first Operation, current, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case first == OpCreate && next.Operation == OpModify:
		return current, true
	case first == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case first == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

// scheduleFlush must be called with d.mu held.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil && d.timer.Stop() {
		d.flushes.Done()
	}
	d.flushes.Add(1)
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits all pending events sorted by path, waiting for the consumer
// unless the debouncer stops.
func (d *Debouncer) flush() {
	defer d.flushes.Done()

	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
	case <-d.stopCh:
	}
}

// Output returns the channel of debounced batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.flushes.Done()
	}
	close(d.stopCh)
	d.mu.Unlock()

	d.flushes.Wait()
	close(d.output)
}
