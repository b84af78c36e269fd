package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/compaction"
	"github.com/serhiybutz/docindexer/internal/output"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

func newFlushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Flush pending changes to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ix, closeIndex, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeIndex() }()

			if err := ix.Flush(ctx); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("Index flushed")
			return nil
		},
	}
}

func newCompactCmd(a *app) *cobra.Command {
	var ifNeeded bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the index",
		Long: `Rewrites the index to reclaim space left by removed and reindexed
documents, then flushes it.

With --if-needed the index is compacted only when the number of uncompacted
documents has reached compaction.threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			ix, closeIndex, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeIndex() }()

			if ifNeeded {
				m := compaction.NewManager(ix, compaction.Config{Threshold: a.cfg.Compaction.Threshold}, a.logger)
				res := m.Check(ctx)
				if res.Err != nil {
					return res.Err
				}
				if !res.Compacted {
					out.Statusf("-", "Compaction skipped: %s (%d uncompacted)", res.Reason, res.Uncompacted)
					return nil
				}
				out.Successf("Compacted %d uncompacted documents", res.Uncompacted)
				return nil
			}

			if err := ix.Compact(ctx); err != nil {
				return err
			}
			if err := ix.Flush(ctx); err != nil {
				return err
			}
			out.Success("Index compacted")
			return nil
		},
	}

	cmd.Flags().BoolVar(&ifNeeded, "if-needed", false, "Compact only above compaction.threshold")

	return cmd
}

// indexStats is the JSON form of the stats command.
type indexStats struct {
	Backend       string `json:"backend"`
	Path          string `json:"path"`
	Type          string `json:"type"`
	Autoflush     string `json:"autoflush"`
	Documents     int64  `json:"documents"`
	MaxDocumentID int64  `json:"max_document_id"`
	Uncompacted   *int64 `json:"uncompacted,omitempty"`
	Threshold     int64  `json:"compaction_threshold"`
}

func newStatsCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ix, closeIndex, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeIndex() }()

			stats, err := collectStats(cmd, ix, a.cfg.Compaction.Threshold)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			uncompacted := "unknown (no preserver)"
			if stats.Uncompacted != nil {
				uncompacted = fmt.Sprintf("%d (threshold %d)", *stats.Uncompacted, stats.Threshold)
			}
			output.New(cmd.OutOrStdout()).Table([]output.KeyValue{
				{Key: "Backend", Value: stats.Backend},
				{Key: "Path", Value: stats.Path},
				{Key: "Type", Value: stats.Type},
				{Key: "Autoflush", Value: stats.Autoflush},
				{Key: "Documents", Value: stats.Documents},
				{Key: "Max document ID", Value: stats.MaxDocumentID},
				{Key: "Uncompacted", Value: uncompacted},
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func collectStats(cmd *cobra.Command, ix *docindex.Indexer, threshold int64) (indexStats, error) {
	ctx := cmd.Context()
	info := ix.Info()

	count, err := ix.DocumentCount(ctx)
	if err != nil {
		return indexStats{}, err
	}
	maxID, err := ix.MaximumDocumentID(ctx)
	if err != nil {
		return indexStats{}, err
	}

	stats := indexStats{
		Backend:       info.Backend,
		Path:          info.Path,
		Type:          string(info.Config.Type),
		Autoflush:     ix.Autoflush().String(),
		Documents:     count,
		MaxDocumentID: maxID,
		Threshold:     threshold,
	}
	if n, ok := ix.UncompactedDocuments(ctx); ok {
		stats.Uncompacted = &n
	}
	return stats, nil
}
