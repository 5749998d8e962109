package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/symbio-data/engine-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "symbio",
	Short: "Industrial waste data canonicalization pipeline",
	Long:  "Resolves raw waste listings, price quotes, emissions reports, and symbiosis exchanges into canonical tables with derived valuations and advisory fraud flags.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
