package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"price-feed-oracle/internal/storage"
)

// Price runs one feed update and prints the resulting price. With
// --at it additionally resolves the historical price at that instant.
func (a *App) Price(ctx context.Context, opts PriceOptions) error {
	if opts.Feed == "" {
		return errors.New("--feed must be provided")
	}

	feed, err := a.buildFeed(opts.Feed)
	if err != nil {
		return err
	}

	if err := feed.Update(ctx); err != nil {
		return fmt.Errorf("update feed %s: %w", opts.Feed, err)
	}

	decimals := feed.GetPriceFeedDecimals()

	if opts.At != nil {
		price, err := feed.GetHistoricalPrice(ctx, opts.At.Unix())
		if err != nil {
			return fmt.Errorf("historical price for %s: %w", opts.Feed, err)
		}
		fmt.Fprintf(os.Stdout, "%s @ %s: %s\n", opts.Feed, opts.At.UTC().Format(time.RFC3339), storage.SnapshotPrice(price, decimals).String())
		return nil
	}

	price := feed.GetCurrentPrice()
	if price == nil {
		fmt.Fprintf(os.Stdout, "%s: no data\n", opts.Feed)
		return nil
	}
	fmt.Fprintf(os.Stdout, "%s: %s\n", opts.Feed, storage.SnapshotPrice(price, decimals).String())
	return nil
}

// Feeds lists every identifier the registry can materialise.
func (a *App) Feeds() {
	for _, name := range a.registry.Names() {
		cfg, _ := a.registry.Lookup(name)
		fmt.Fprintf(os.Stdout, "%s\t%s\t%d\n", name, cfg.Kind, cfg.PriceFeedDecimals)
	}
}
