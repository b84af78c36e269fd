package cmd

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/logging"
	"github.com/serhiybutz/docindexer/internal/output"
)

// logsOptions holds CLI flags for logs.
type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd(a *app) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the JSON log file",
		Long: `Shows the last lines of the log file written with logging.file or
--log-file. Use -f to follow new entries.

Examples:
  docindexer logs -n 100
  docindexer logs -f --level warn
  docindexer logs --filter compaction`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow new entries")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Show only lines matching this regex")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: logging.file)")

	return cmd
}

func (a *app) runLogs(cmd *cobra.Command, opts logsOptions) error {
	explicit := opts.file
	if explicit == "" {
		explicit = a.cfg.Logging.File
	}
	path, err := logging.FindLogFile(explicit)
	if err != nil {
		return err
	}

	cfg := logging.ViewerConfig{
		Level:   opts.level,
		NoColor: opts.noColor || !output.IsTTY(cmd.OutOrStdout()),
	}
	if opts.filter != "" {
		re, err := regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
		cfg.Pattern = re
	}
	viewer := logging.NewViewer(cfg, cmd.OutOrStdout())

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	if !opts.follow {
		return nil
	}

	ch := make(chan logging.LogEntry, 64)
	done := make(chan error, 1)
	go func() {
		done <- viewer.Follow(cmd.Context(), path, ch)
		close(ch)
	}()
	for entry := range ch {
		viewer.Print([]logging.LogEntry{entry})
	}
	return <-done
}
