package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/output"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <document>...",
		Aliases: []string{"rm"},
		Short:   "Remove documents from the index",
		Long: `Removes documents given as URLs or local paths. Documents that are
not in the index are reported and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			ix, closeIndex, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeIndex() }()

			removed := 0
			for _, arg := range args {
				ref, err := parseDocumentArg(arg)
				if err != nil {
					return err
				}
				err = ix.RemoveDocument(ctx, ref)
				switch {
				case err == nil:
					removed++
				case errors.Is(err, docindex.ErrDocumentNotFound):
					out.Warningf("%s is not indexed", ref)
				default:
					return err
				}
			}

			if err := ix.Flush(ctx); err != nil {
				return err
			}
			out.Successf("Removed %d documents", removed)
			return nil
		},
	}
}
