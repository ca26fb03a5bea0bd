package commands

import (
	"context"
	"dropcarter/services/carter"
	"dropcarter/services/carter/checkout"
	"dropcarter/services/carter/notify"
	"dropcarter/services/carter/orderlog"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Logs in, waits for the items to open, reserves them and checks out.",
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

		runID, err := carter.NewRunID()
		if err != nil {
			return err
		}

		var hooks []checkout.PlacementHook
		database, err := cfg.Ledger.OpenDB()
		if err != nil {
			slog.WarnContext(ctx, "order ledger unavailable, orders will not be recorded", "location", cfg.Ledger.Location(), "err", err)
		} else {
			defer database.Close()
			err = orderlog.Migrate(ctx, database)
			if err != nil {
				return fmt.Errorf("failed to migrate order ledger: %w", err)
			}
			hooks = append(hooks, orderlog.NewLedger(database, runID))
		}
		if cfg.Smtp.Enabled() {
			hooks = append(hooks, notify.NewNotifier(cfg.Smtp, cfg.NotifyTo, runID))
		}

		chrome, err := launchBrowser(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to launch chrome: %w", err)
		}
		defer chrome.Close()

		driver := carter.NewDriver(cfg, cat, chrome, runID, hooks...)
		summary, err := driver.Run(ctx)
		printSummary(summary)
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted")
			return nil
		}
		return err
	},
}

func printSummary(summary carter.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Secured", "Orders", "Dry run"})
	t.AppendRow(table.Row{
		summary.RunID,
		strings.Join(summary.Secured, ", "),
		summary.Orders,
		summary.DryRun,
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
