package commands

import (
	"context"
	"dropcarter/lib/storeapi"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/session"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var itemsFind *string
var itemsLimit *int
var itemsTest *bool
var itemsStatus *bool

func init() {
	itemsFind = itemsCmd.Flags().String("find", "", "Rank items by similarity to this name or code.")
	itemsLimit = itemsCmd.Flags().Int("limit", 5, "The number of matches to show with --find.")
	itemsTest = itemsCmd.Flags().Bool("test", false, "Show the test item list instead of the production one.")
	itemsStatus = itemsCmd.Flags().Bool("status", false, "Log in and query the current cart type of every item shown.")
	rootCmd.AddCommand(itemsCmd)
}

var itemsCmd = &cobra.Command{
	Use:   "items [--find <query>] [--test] [--status]",
	Short: "Prints the item catalog.",
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

		items := cat.Select(*itemsTest)
		similarity := map[string]float64{}
		if *itemsFind != "" {
			items = items[:0:0]
			for _, match := range catalog.Search(cat.Select(*itemsTest), *itemsFind, *itemsLimit) {
				items = append(items, match.Item)
				similarity[match.Item.Code] = match.Similarity
			}
		}

		var statuses map[string]string
		if *itemsStatus {
			client, sess, closeBrowser, err := storeSession(ctx, cfg, cat)
			if err != nil {
				return err
			}
			statuses = queryStatuses(ctx, client, sess, items)
			closeBrowser()
		}

		header := table.Row{"Code", "Description", "Limit", "Quantity"}
		if *itemsFind != "" {
			header = append(header, "Similarity")
		}
		if statuses != nil {
			header = append(header, "Status")
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(header)
		for _, item := range items {
			row := table.Row{item.Code, item.Desc, item.MaxCartinCount, item.Quantity()}
			if *itemsFind != "" {
				row = append(row, fmt.Sprintf("%.2f", similarity[item.Code]))
			}
			if statuses != nil {
				row = append(row, statuses[item.Code])
			}
			t.AppendRow(row)
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

func queryStatuses(ctx context.Context, client *storeapi.Client, sess *session.Context, items []catalog.Item) map[string]string {
	out := make(map[string]string, len(items))
	for _, item := range items {
		res, err := client.ItemInfo(ctx, catalog.StatusQuery(item, sess))
		switch {
		case err != nil:
			out[item.Code] = "error: " + err.Error()
		case res.Status != storeapi.StatusSuccess:
			out[item.Code] = "http " + strconv.Itoa(res.Status)
		case res.Item == nil || res.Item.CartType == nil:
			out[item.Code] = "no cart_type"
		default:
			out[item.Code] = catalog.CartType(*res.Item.CartType).String()
		}
	}
	return out
}
