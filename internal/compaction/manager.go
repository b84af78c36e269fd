// Package compaction runs background compaction of a document index once
// enough removed or replaced documents have accumulated.
//
// Compaction runs when all of the following hold:
//  1. The index tracks fragmentation (UncompactedDocuments reports ok)
//  2. The uncompacted estimate reaches Threshold
//  3. Cooldown has elapsed since the last compaction
package compaction

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Target is the index being compacted. *docindex.Indexer satisfies it.
type Target interface {
	UncompactedDocuments(ctx context.Context) (int64, bool)
	Compact(ctx context.Context) error
	Flush(ctx context.Context) error
}

// Config controls when compaction runs.
type Config struct {
	Threshold     int64
	CheckInterval time.Duration
	Cooldown      time.Duration
}

// Result describes one check.
type Result struct {
	Uncompacted int64
	Compacted   bool
	Reason      string
	Err         error
}

// Manager polls a Target and compacts it when eligible.
type Manager struct {
	target Target
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastCompact time.Time
	running     bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates a manager. A nil logger uses slog.Default().
func NewManager(target Target, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	return &Manager{
		target: target,
		config: cfg,
		logger: logger.With("component", "compaction"),
		now:    time.Now,
	}
}

// Start begins polling until Stop is called or ctx is done. Calling Start
// more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Debug("compaction_manager_started",
		slog.Int64("threshold", m.config.Threshold),
		slog.Duration("check_interval", m.config.CheckInterval),
		slog.Duration("cooldown", m.config.Cooldown))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop ends polling and waits for an in-progress check to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		cancel := m.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.wg.Wait()
		m.logger.Debug("compaction_manager_stopped")
	})
}

// Check compacts the target if it is eligible now.
func (m *Manager) Check(ctx context.Context) Result {
	n, ok := m.target.UncompactedDocuments(ctx)
	if !ok {
		return Result{Reason: "fragmentation_unavailable"}
	}
	res := Result{Uncompacted: n}

	if n < m.config.Threshold {
		res.Reason = "below_threshold"
		m.logger.Debug("compaction_skipped",
			slog.String("reason", res.Reason),
			slog.Int64("uncompacted", n),
			slog.Int64("threshold", m.config.Threshold))
		return res
	}

	m.mu.Lock()
	last := m.lastCompact
	m.mu.Unlock()
	if !last.IsZero() && m.now().Sub(last) < m.config.Cooldown {
		res.Reason = "cooldown"
		m.logger.Debug("compaction_skipped",
			slog.String("reason", res.Reason),
			slog.Duration("remaining", m.config.Cooldown-m.now().Sub(last)))
		return res
	}

	start := m.now()
	m.logger.Info("compaction_starting", slog.Int64("uncompacted", n))

	if err := m.target.Compact(ctx); err != nil {
		res.Err = err
		res.Reason = "compact_failed"
		m.logger.Warn("compaction_failed", slog.String("error", err.Error()))
		return res
	}
	m.mu.Lock()
	m.lastCompact = m.now()
	m.mu.Unlock()

	// Compaction may leave the engine with unflushed state.
	if err := m.target.Flush(ctx); err != nil {
		res.Err = err
		m.logger.Warn("compaction_flush_failed", slog.String("error", err.Error()))
	}

	res.Compacted = true
	after, _ := m.target.UncompactedDocuments(ctx)
	m.logger.Info("compaction_complete",
		slog.Int64("uncompacted_before", n),
		slog.Int64("uncompacted_after", after),
		slog.Duration("duration", m.now().Sub(start)))
	return res
}
