package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case events := <-d.Output():
		return events
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced events")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: a single event is added
	d.Add(FileEvent{Path: "/docs/notes.md", Operation: OpCreate, Timestamp: time.Now()})

	// Then: the event passes through after the debounce window
	events := receive(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, "/docs/notes.md", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDebouncer_MultipleEventsForSameFile_Coalesces(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	// When: multiple events for the same file are added rapidly
	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "/docs/notes.md", Operation: OpModify, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}

	// Then: only one event comes out
	events := receive(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name   string
		first  Operation
		second Operation
		want   Operation
	}{
		{"create then modify stays create", OpCreate, OpModify, OpCreate},
		{"modify then delete is delete", OpModify, OpDelete, OpDelete},
		{"delete then create is modify", OpDelete, OpCreate, OpModify},
		{"modify then rename is rename", OpModify, OpRename, OpRename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(30 * time.Millisecond)
			defer d.Stop()

			d.Add(FileEvent{Path: "/docs/a.md", Operation: tt.first})
			d.Add(FileEvent{Path: "/docs/a.md", Operation: tt.second})

			events := receive(t, d)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].Operation)
		})
	}
}

func TestDebouncer_CreateThenDelete_NoEvent(t *testing.T) {
	// Given: a debouncer with short window
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// When: CREATE followed by DELETE for the same file
	d.Add(FileEvent{Path: "/docs/tmp.md", Operation: OpCreate})
	d.Add(FileEvent{Path: "/docs/tmp.md", Operation: OpDelete})

	// Then: nothing is emitted
	select {
	case events := <-d.Output():
		t.Fatalf("unexpected batch: %v", events)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDebouncer_DifferentFiles_SortedBatch(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/c.md", Operation: OpDelete})
	d.Add(FileEvent{Path: "/docs/a.md", Operation: OpCreate})
	d.Add(FileEvent{Path: "/docs/b.md", Operation: OpModify})

	events := receive(t, d)
	require.Len(t, events, 3)
	assert.Equal(t, "/docs/a.md", events[0].Path)
	assert.Equal(t, "/docs/b.md", events[1].Path)
	assert.Equal(t, "/docs/c.md", events[2].Path)
	assert.Equal(t, OpDelete, events[2].Operation)
}

func TestDebouncer_Stop_ClosesOutputAndDiscardsPending(t *testing.T) {
	// Given: a debouncer with a pending event
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "/docs/a.md", Operation: OpCreate})

	// When: stopped
	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "/docs/b.md", Operation: OpCreate})

	// Then: the output is closed without a batch
	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestDebouncer_Stop_UnblocksPendingSend(t *testing.T) {
	// Given: more batches than the output buffers, none consumed
	d := NewDebouncer(time.Millisecond)
	for i := 0; i < cap(d.output)+2; i++ {
		d.Add(FileEvent{Path: "/docs/a.md", Operation: OpModify})
		time.Sleep(5 * time.Millisecond)
	}

	// Then: Stop returns instead of waiting for a consumer
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a full output")
	}
}
