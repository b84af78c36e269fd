// Package cmd provides the CLI commands for docindexer.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/config"
	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/internal/logging"
	"github.com/serhiybutz/docindexer/internal/profiling"
	"github.com/serhiybutz/docindexer/pkg/docindex"
	"github.com/serhiybutz/docindexer/pkg/preserver"
	"github.com/serhiybutz/docindexer/pkg/version"
)

// skipSetup marks commands that run without loading the configuration.
const skipSetup = "docindexer/skip-setup"

// app is the state shared by the commands of one root.
type app struct {
	configPath string
	dir        string
	logLevel   string
	logFile    string
	jsonErrors bool
	profile    profiling.Options

	cfg      *config.Config
	logger   *slog.Logger
	session  *profiling.Session
	cleanups []func()
}

// Execute runs the root command with a context cancelled on SIGINT and
// SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Post-run hooks are skipped when a command fails.
	a := &app{}
	defer func() { _ = a.teardown(nil, nil) }()

	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	if err != nil {
		a.printError(root.ErrOrStderr(), err)
	}
	return err
}

// NewRootCmd creates the root command for the docindexer CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docindexer",
		Short: "Full-text document index with incremental compaction",
		Long: `docindexer maintains a full-text index over local documents.

Documents are added by path, searched in batches and removed when they
disappear. The serve command keeps the index in sync with watched
directories and compacts it once enough documents were rewritten.`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	cmd.SetVersionTemplate("docindexer version {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default: .docindexer.yaml in --dir)")
	flags.StringVarP(&a.dir, "dir", "C", "", "Project directory (default: current directory)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")
	flags.BoolVar(&a.jsonErrors, "json-errors", false, "Print errors as JSON")
	flags.StringVar(&a.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	flags.StringVar(&a.profile.Mem, "profile-mem", "", "Write memory profile to file")
	flags.StringVar(&a.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newRemoveCmd(a))
	cmd.AddCommand(newPropsCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newFlushCmd(a))
	cmd.AddCommand(newCompactCmd(a))
	cmd.AddCommand(newStatsCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newLogsCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// printError writes err with its code and hint.
func (a *app) printError(w io.Writer, err error) {
	if a.jsonErrors {
		if data, jerr := ierrors.FormatJSON(err); jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
	}
	_, _ = fmt.Fprint(w, ierrors.FormatForCLI(err))
}

// setup loads the configuration and starts logging and profiling.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipSetup] != "" {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Logging.File = a.logFile
	}
	a.cfg = cfg

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Stderr:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger = logger
	a.cleanups = append(a.cleanups, cleanup)
	slog.SetDefault(logger)

	if a.profile.Enabled() {
		session, err := profiling.Start(a.profile)
		if err != nil {
			return err
		}
		a.session = session
	}
	return nil
}

// teardown stops profiling and closes the log outputs.
func (a *app) teardown(*cobra.Command, []string) error {
	var err error
	if a.session != nil {
		err = a.session.Stop()
		a.session = nil
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
	return err
}

func (a *app) projectDir() (string, error) {
	if a.dir != "" {
		return filepath.Abs(a.dir)
	}
	return os.Getwd()
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFile(a.configPath)
	}
	dir, err := a.projectDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return config.Load(dir)
}

// openIndex opens the configured index, creating it on first use. The
// returned close function releases the index and its preserver.
func (a *app) openIndex(ctx context.Context, opts ...docindex.Option) (*docindex.Indexer, func() error, error) {
	store, err := preserver.Open(ctx, a.cfg.Fragmentation.Preserver, a.cfg.Fragmentation.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open fragmentation preserver: %w", err)
	}

	base := []docindex.Option{
		docindex.WithBackend(a.cfg.Index.Backend),
		docindex.WithAutoflush(a.cfg.Autoflush()),
		docindex.WithLogger(a.logger),
		docindex.WithPreserver(store),
	}
	ix, err := docindex.New(ctx, docindex.BackingFor(a.cfg.Index.Path, a.cfg.IndexConfig()), append(base, opts...)...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return ix, func() error {
		return errors.Join(ix.Close(), store.Close())
	}, nil
}
