package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/service"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/store"
)

type searchOptions struct {
	kind     string
	category string
	topK     int
	format   string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base via the orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", "", "filter by record kind: experience, skill")
	cmd.Flags().StringVar(&opts.category, "category", "", "filter by category code")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 10, "maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	emb := embedder.NewStatic(cfg.Index.Dimensions)
	svc, err := service.New(cfg, emb, nil)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer func() { _ = svc.Close() }()

	var kind *store.Kind
	if opts.kind != "" {
		k := store.Kind(opts.kind)
		kind = &k
	}
	var category *string
	if opts.category != "" {
		category = &opts.category
	}

	results, err := svc.Search(cmd.Context(), provider.SearchQuery{
		Query:    query,
		Kind:     kind,
		Category: category,
		TopK:     opts.topK,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no results for %q\n", query)
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. [%s] %s (score: %.3f, provider: %s)\n", i+1, r.Kind, r.RecordID, r.Score, r.Provider)
		if r.Title != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", r.Title)
		}
	}
	return nil
}
