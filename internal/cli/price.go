package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-feed-oracle/internal/app"
)

var (
	priceFeed string
	priceAt   string
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Update one feed and print its price",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PriceOptions{
			Feed: priceFeed,
		}

		if priceAt != "" {
			at, err := time.Parse(time.RFC3339, priceAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.At = &at
		}

		return getApp().Price(cmd.Context(), opts)
	},
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List the feed identifiers this build can materialise",
	Run: func(cmd *cobra.Command, args []string) {
		getApp().Feeds()
	},
}

func init() {
	priceCmd.Flags().StringVar(&priceFeed, "feed", "", "Feed identifier to query")
	priceCmd.Flags().StringVar(&priceAt, "at", "", "Historical timestamp (RFC3339) instead of the current price")
}
