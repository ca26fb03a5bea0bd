package commands

import (
	"dropcarter/services/carter/orderlog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var ordersLimit *int

func init() {
	ordersLimit = ordersCmd.Flags().Int("limit", 20, "The number of orders to show, 0 shows all of them.")
	rootCmd.AddCommand(ordersCmd)
}

var ordersCmd = &cobra.Command{
	Use:   "orders [--limit <n>]",
	Short: "Prints the orders recorded in the order ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := cfg.Ledger.OpenDB()
		if err != nil {
			return err
		}
		defer database.Close()

		err = orderlog.Migrate(cmd.Context(), database)
		if err != nil {
			return err
		}
		orders, err := orderlog.NewLedger(database, "").List(cmd.Context(), *ordersLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Run", "#", "Placed at", "Items", "Snapshot"})
		for _, order := range orders {
			t.AppendRow(table.Row{
				order.RunID,
				order.Sequence,
				order.PlacedAt.Format(time.ANSIC),
				strings.Join(order.Items, ", "),
				order.SnapshotPath,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
