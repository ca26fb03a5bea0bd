package commands

import (
	"context"
	"dropcarter/lib/telemetry"
	"dropcarter/services/carter"
	"dropcarter/services/carter/catalog"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath *string
var debug *bool

var rootCmd = &cobra.Command{
	Use:   "carter",
	Short: "carter watches a storefront for pre-orders, reserves the items and checks them out.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*debug)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file, overridden by <name>.local.json5.")
	debug = rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging and http message dumps.")
}

// ExecuteContext runs the cli and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func loadConfig() (carter.Config, error) {
	cfg, err := carter.LoadConfig(*configPath)
	if err != nil {
		return carter.Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return cfg, nil
}

func loadCatalog(cfg carter.Config) (catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return catalog.Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	return cat, nil
}
