package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/service"
)

func newRebuildIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the nearest-neighbor index from persisted embeddings",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			if err := svc.Orchestrator.RebuildIndex(cmd.Context(), nil); err != nil {
				return fmt.Errorf("rebuild index: %w", err)
			}
			if err := svc.SaveIndex(); err != nil {
				return fmt.Errorf("save index snapshot: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "index rebuilt")
			return nil
		},
	}
}
