package commands

import (
	"context"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/poller"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var monitorItem *string

func init() {
	monitorItem = monitorCmd.Flags().String("item", "", "The item code to query, defaults to the first test item.")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [--item <code>]",
	Short: "Logs in and samples how often item status requests get through, writing the samples to a csv file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		item, err := pickItem(cat, *monitorItem)
		if err != nil {
			return err
		}

		client, sess, closeBrowser, err := storeSession(ctx, cfg, cat)
		if err != nil {
			return err
		}
		defer closeBrowser()

		slog.InfoContext(ctx, "monitoring item", "code", item.Code, "samples", cfg.SamplesFile)
		p := poller.New(client, sess, cfg.PollerOptions())
		err = p.Monitor(ctx, item, poller.CSVSink{Path: cfg.SamplesFile}, poller.MonitorOptions{})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func pickItem(cat catalog.Catalog, code string) (catalog.Item, error) {
	if code == "" {
		if len(cat.TestItems) == 0 {
			return catalog.Item{}, fmt.Errorf("the catalog has no test items, pass --item")
		}
		return cat.TestItems[0], nil
	}
	for _, item := range append(cat.Items, cat.TestItems...) {
		if item.Code == code {
			return item, nil
		}
	}
	return catalog.Item{Code: code}, nil
}
