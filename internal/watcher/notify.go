package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches directory trees with fsnotify and emits debounced batches.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	filter    Filter
	logger    *slog.Logger

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}

	mu             sync.Mutex
	stopped        bool
	forwarding     sync.WaitGroup
	droppedErrors  atomic.Uint64
	watchedDirsCnt atomic.Int64
}

// New creates a watcher. Nothing is watched until Start.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:        fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		filter:    opts.Filter(),
		logger:    logger.With("component", "watcher"),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	w.forwarding.Add(1)
	go w.forward()

	return w, nil
}

// Start watches roots recursively and blocks until ctx is done or Stop is
// called. It returns ctx.Err() on cancellation and nil after Stop.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		if err := w.addRecursive(abs); err != nil {
			return fmt.Errorf("watch %s: %w", abs, err)
		}
	}
	w.logger.Info("watcher_started",
		slog.Any("roots", roots),
		slog.Int64("directories", w.watchedDirsCnt.Load()))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if isDir {
		if !w.filter.Dir(event.Name) {
			return
		}
	} else if !w.filter.File(event.Name) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			if err := w.addRecursive(event.Name); err != nil {
				w.emitError(err)
			}
		}
	case event.Has(fsnotify.Write):
		if isDir {
			return
		}
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !w.filter.Dir(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return err
		}
		w.watchedDirsCnt.Add(1)
		return nil
	})
}

func (w *Watcher) forward() {
	defer w.forwarding.Done()
	for batch := range w.debouncer.Output() {
		select {
		case w.events <- batch:
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	case <-w.stopCh:
	default:
		n := w.droppedErrors.Add(1)
		w.logger.Warn("watcher_error_dropped",
			slog.String("error", err.Error()),
			slog.Uint64("total_dropped", n))
	}
}

// Stop stops watching and closes the Events channel.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	err := w.fs.Close()
	w.debouncer.Stop()
	w.forwarding.Wait()

	close(w.events)
	return err
}

// Events returns the channel of debounced event batches.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors. It is never closed.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// WatchedDirectories returns the number of directories being watched.
func (w *Watcher) WatchedDirectories() int64 {
	return w.watchedDirsCnt.Load()
}
