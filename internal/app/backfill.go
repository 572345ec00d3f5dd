package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"price-feed-oracle/internal/storage"
)

// Backfill replays one feed's history into snapshot buckets。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	interval := a.Config.Scheduler.Interval
	if interval <= 0 {
		return errors.New("scheduler interval 配置不合法")
	}
	if opts.Feed == "" {
		return errors.New("--feed must be provided")
	}

	start := alignForward(opts.From.UTC(), interval)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	var store *storage.Store
	var closeStore func()
	var err error

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	feed, err := a.buildFeed(opts.Feed)
	if err != nil {
		return err
	}

	// A single update warms the feed's lookback window; each bucket is
	// then resolved from the warmed history.
	if err := feed.Update(ctx); err != nil {
		return fmt.Errorf("update feed %s: %w", opts.Feed, err)
	}

	decimals := feed.GetPriceFeedDecimals()

	processed := 0
	failed := 0
	for bucket := start; bucket.Before(end); bucket = bucket.Add(interval) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		snapshot := storage.PriceSnapshot{
			Identifier: opts.Feed,
			Bucket:     bucket,
			Decimals:   decimals,
			Status:     "complete",
			CreatedAt:  time.Now().UTC(),
		}

		price, priceErr := feed.GetHistoricalPrice(ctx, bucket.Unix())
		switch {
		case priceErr != nil:
			failed++
			msg := priceErr.Error()
			snapshot.Status = "errored"
			snapshot.Error = &msg
			a.Logger.Error().Err(priceErr).Time("bucket", bucket).Msg("回填失败")
		case price == nil:
			snapshot.Status = "no_data"
		default:
			snapshot.Price = storage.SnapshotPrice(price, decimals)
		}

		if opts.DryRun {
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", bucket.Format(time.RFC3339), snapshot.Status, snapshot.Price.String())
		} else if err := store.UpsertSnapshot(ctx, snapshot); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("回填写入失败")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分 bucket 回填失败，请检查日志")
	}
	return nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
