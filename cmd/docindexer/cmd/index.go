package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/output"
	"github.com/serhiybutz/docindexer/internal/watcher"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		docURL string
		text   string
	)

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Add files or a text document to the index",
		Long: `Indexes every matching file below the given paths, or below the
configured watch paths when none are given. A path naming a single file is
indexed regardless of its extension.

With --url the document text is taken from --text or standard input and
indexed under that URL instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if docURL != "" {
				if len(args) > 0 {
					return fmt.Errorf("--url cannot be combined with paths")
				}
				if !cmd.Flags().Changed("text") {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("failed to read document text: %w", err)
					}
					text = string(data)
				}
				return a.runIndexText(cmd, docURL, text)
			}
			return a.runIndexPaths(cmd, args)
		},
	}

	cmd.Flags().StringVar(&docURL, "url", "", "Index text under this document URL (e.g. mem://inbox/1)")
	cmd.Flags().StringVar(&text, "text", "", "Document text for --url (default: read stdin)")

	return cmd
}

func (a *app) runIndexPaths(cmd *cobra.Command, paths []string) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	if len(paths) == 0 {
		paths = a.cfg.Watch.Paths
	}
	if len(paths) == 0 {
		dir, err := a.projectDir()
		if err != nil {
			return err
		}
		paths = []string{dir}
	}

	ix, closeIndex, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeIndex() }()

	syncer := watcher.NewSyncer(ix, a.watchOptions().Filter(), a.cfg.Index.Workers, a.logger)

	start := time.Now()
	var total watcher.Stats
	for _, p := range paths {
		stats, err := syncer.IndexTree(ctx, p)
		total.Indexed += stats.Indexed
		total.Failed += stats.Failed
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", p, err)
		}
	}

	if err := ix.Flush(ctx); err != nil {
		return err
	}

	a.logger.Info("index_completed",
		slog.Int64("indexed", total.Indexed),
		slog.Int64("failed", total.Failed),
		slog.Duration("duration", time.Since(start)))

	out.Successf("Indexed %d documents in %s", total.Indexed, time.Since(start).Round(time.Millisecond))
	if total.Failed > 0 {
		out.Warningf("%d files failed (see log for details)", total.Failed)
	}
	return nil
}

func (a *app) runIndexText(cmd *cobra.Command, rawURL, text string) error {
	ctx := cmd.Context()

	ref, err := docindex.ParseDocumentURL(rawURL)
	if err != nil {
		return err
	}

	ix, closeIndex, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeIndex() }()

	if err := ix.IndexDocument(ctx, ref, strings.TrimSpace(text)); err != nil {
		return err
	}
	if err := ix.Flush(ctx); err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Successf("Indexed %s", ref)
	return nil
}

func (a *app) watchOptions() watcher.Options {
	return watcher.Options{
		DebounceWindow: a.cfg.WatchDebounce(),
		Extensions:     a.cfg.Watch.Extensions,
		Ignore:         a.cfg.Watch.Ignore,
	}.WithDefaults()
}

// parseDocumentArg accepts a document URL or a local path.
func parseDocumentArg(arg string) (docindex.DocumentURL, error) {
	if strings.Contains(arg, "://") {
		return docindex.ParseDocumentURL(arg)
	}
	ref, err := docindex.NewFileDocumentURL(arg)
	if err != nil {
		return docindex.DocumentURL{}, err
	}
	return ref.DocumentURL, nil
}
