package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-feed-oracle/internal/app"
)

var (
	showFeed  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Feed:  showFeed,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showFeed, "feed", "", "Restrict output to one feed identifier")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of snapshots to display")
}
