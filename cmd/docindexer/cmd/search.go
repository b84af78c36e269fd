package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/output"
	"github.com/serhiybutz/docindexer/pkg/docindex"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	format   string // "text", "json"
	or       bool
	noScores bool
	similar  bool
	batch    int
}

// searchResult is the JSON form of one hit.
type searchResult struct {
	Rank     int     `json:"rank"`
	Document string  `json:"document"`
	Score    float32 `json:"score"`
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Searches the index and prints matching documents by relevance.

Terms are combined with AND unless --or is given. Quoted phrases need an
index created with proximity indexing.

Examples:
  docindexer search tomatoes basil
  docindexer search '"green tomatoes"' --limit 5
  docindexer search --similar "a recipe with roasted vegetables"
  docindexer search soup --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.max_results)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.or, "or", false, "Treat spaces as OR")
	cmd.Flags().BoolVar(&opts.noScores, "no-scores", false, "Skip relevance scoring")
	cmd.Flags().BoolVar(&opts.similar, "similar", false, "Find documents similar to the query text")
	cmd.Flags().IntVar(&opts.batch, "batch", 0, "Hits per engine batch (default: search.hits_per_batch)")

	return cmd
}

func (a *app) searchRequest(query string, opts searchOptions) docindex.SearchRequest {
	req := a.cfg.SearchRequest(query)
	if opts.or {
		req.Options |= docindex.SearchOptionSpaceMeansOr
	}
	if opts.noScores {
		req.Options |= docindex.SearchOptionNoRelevanceScores
	}
	if opts.similar {
		req.Options |= docindex.SearchOptionFindSimilar
	}
	if opts.batch > 0 {
		req.HitsPerBatch = opts.batch
	}
	return req
}

func (a *app) runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid format %q (valid options: text, json)", opts.format)
	}
	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Search.MaxResults
	}

	ix, closeIndex, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeIndex() }()

	req := a.searchRequest(query, opts)
	start := time.Now()
	var hits []docindex.SearchHit
	err = ix.SearchEach(ctx, req, func(batch []docindex.SearchHit, _ bool) bool {
		hits = append(hits, batch...)
		return limit > 0 && len(hits) >= limit
	})
	if err != nil {
		return err
	}

	if req.Options&docindex.SearchOptionNoRelevanceScores == 0 {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	a.logger.Info("search_completed",
		slog.String("query", query),
		slog.Int("results", len(hits)),
		slog.Duration("duration", time.Since(start)))

	if opts.format == "json" {
		results := make([]searchResult, len(hits))
		for i, h := range hits {
			results[i] = searchResult{Rank: i + 1, Document: h.Document.String(), Score: h.Score}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"query": query, "results": results})
	}

	out := output.New(cmd.OutOrStdout())
	if len(hits) == 0 {
		out.Warningf("No documents match %q", query)
		return nil
	}
	for i, h := range hits {
		out.Hit(i+1, h.Score, h.Document.String())
	}
	return nil
}
