package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/embedder"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/service"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run or inspect the background embedding worker",
	}
	cmd.AddCommand(newWorkerStartCmd())
	return cmd
}

func newWorkerStartCmd() *cobra.Command {
	var jsonStats bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the embedding worker loop until interrupted",
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- svc.Worker.Start(ctx) }()

			<-ctx.Done()
			svc.Worker.Stop(stop, 5*time.Second)
			if err := <-done; err != nil {
				return err
			}

			if saveErr := svc.SaveIndex(); saveErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to save index snapshot: %v\n", saveErr)
			}

			if jsonStats {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(svc.Worker.Stats())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonStats, "json", false, "print final stats as JSON on exit")
	return cmd
}
