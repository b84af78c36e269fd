package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/serhiybutz/docindexer/internal/compaction"
	"github.com/serhiybutz/docindexer/internal/metrics"
	"github.com/serhiybutz/docindexer/internal/watcher"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	watch       bool
	metricsAddr string
	noSync      bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the index in sync and compacted until interrupted",
		Long: `Runs in the foreground until interrupted:

  - compacts the index when compaction.threshold is reached
  - with --watch (or watch.enabled) indexes changed files below the watch paths
  - with --metrics-addr (or metrics.enabled) serves Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("watch") {
				a.cfg.Watch.Enabled = opts.watch
			}
			if opts.metricsAddr != "" {
				a.cfg.Metrics.Enabled = true
				a.cfg.Metrics.Addr = opts.metricsAddr
			}
			return a.runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Watch directories for changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve metrics on this address")
	cmd.Flags().BoolVar(&opts.noSync, "no-sync", false, "Skip indexing the watch paths before watching")

	return cmd
}

func (a *app) runServe(ctx context.Context, opts serveOptions) error {
	var extra []docindex.Option
	var m *metrics.Metrics
	reg := prometheus.NewRegistry()
	if a.cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		extra = append(extra, docindex.WithRecorder(m))
	}

	ix, closeIndex, err := a.openIndex(ctx, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeIndex(); err != nil {
			a.logger.Warn("index_close_failed", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	fail := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	if m != nil {
		if err := m.ObserveIndex(ix); err != nil {
			return fmt.Errorf("failed to register index metrics: %w", err)
		}
		if err := a.serveMetrics(gctx, g, reg); err != nil {
			return err
		}
	}

	if a.cfg.Compaction.Enabled {
		mgr := compaction.NewManager(ix, compaction.Config{
			Threshold:     a.cfg.Compaction.Threshold,
			CheckInterval: a.cfg.CompactionCheckInterval(),
			Cooldown:      a.cfg.CompactionCooldown(),
		}, a.logger)
		mgr.Start(gctx)
		defer mgr.Stop()
	}

	if a.cfg.Watch.Enabled {
		if err := a.startWatching(gctx, g, ix, !opts.noSync); err != nil {
			return fail(err)
		}
	}

	a.logger.Info("serve_started",
		slog.String("index", a.cfg.Index.Path),
		slog.Bool("watch", a.cfg.Watch.Enabled),
		slog.Bool("metrics", a.cfg.Metrics.Enabled),
		slog.Bool("compaction", a.cfg.Compaction.Enabled))

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	a.logger.Info("serve_stopped")
	return err
}

func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Metrics.Addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.logger.Info("metrics_listening", slog.String("addr", ln.Addr().String()))

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return nil
}

func (a *app) startWatching(ctx context.Context, g *errgroup.Group, ix *docindex.Indexer, initialSync bool) error {
	paths := a.cfg.Watch.Paths
	if len(paths) == 0 {
		dir, err := a.projectDir()
		if err != nil {
			return err
		}
		paths = []string{dir}
	}

	opts := a.watchOptions()
	syncer := watcher.NewSyncer(ix, opts.Filter(), a.cfg.Index.Workers, a.logger)
	syncer.FlushAfterBatch(ix.Flush)

	if initialSync {
		for _, p := range paths {
			stats, err := syncer.IndexTree(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to index %s: %w", p, err)
			}
			a.logger.Info("initial_sync_completed",
				slog.String("path", p),
				slog.Int64("indexed", stats.Indexed),
				slog.Int64("failed", stats.Failed))
		}
		if err := ix.Flush(ctx); err != nil {
			return err
		}
	}

	w, err := watcher.New(opts, a.logger)
	if err != nil {
		return err
	}

	g.Go(func() error {
		defer func() { _ = w.Stop() }()
		return w.Start(ctx, paths...)
	})
	g.Go(func() error {
		return syncer.Run(ctx, w.Events())
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-w.Errors():
				a.logger.Warn("watcher_error", slog.String("error", err.Error()))
			}
		}
	})
	return nil
}
