// Package cmd provides the CLI commands for kb.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/config"
	"github.com/tyouritsugun/curated-heuristic-loop/internal/logging"
	"github.com/tyouritsugun/curated-heuristic-loop/pkg/version"
)

var (
	configPath string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the kb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kb",
		Short:   "Knowledge-base search and embedding subsystem",
		Version: version.Version,
		PersistentPreRunE: func(invoked *cobra.Command, _ []string) error {
			logCfg := logging.DefaultConfig()
			if invoked.Name() == "start" && invoked.Parent() != nil && invoked.Parent().Name() == "worker" {
				logCfg = logging.WorkerConfig()
			} else {
				logCfg.Component = "cli"
				logCfg.FilePath = logging.ComponentLogPath("cli")
			}
			if debugMode {
				logCfg.Level = "debug"
			}
			logCfg.WriteToStderr = true

			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			loggingCleanup = cleanup
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
			return nil
		},
	}

	cmd.SetVersionTemplate("kb version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to kb config YAML (defaults built in if absent)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newRebuildIndexCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the YAML config at --config, or falls back to built-in
// defaults when the flag is unset.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
