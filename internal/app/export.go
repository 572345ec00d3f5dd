package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-feed-oracle/internal/storage"
	"price-feed-oracle/internal/twap"
)

// Export renders one feed's history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Feed == "" {
		return errors.New("--feed must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	if opts.Raw {
		return a.exportRaw(ctx, opts)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, opts.Feed, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Str("feed", opts.Feed).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Str("feed", opts.Feed).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.Feed, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportRaw replays the feed's event series and writes it through the
// same CSV/PNG pipeline as persisted snapshots.
func (a *App) exportRaw(ctx context.Context, opts ExportOptions) error {
	feed, err := a.buildFeed(opts.Feed)
	if err != nil {
		return err
	}

	if err := feed.Update(ctx); err != nil {
		return fmt.Errorf("update feed %s: %w", opts.Feed, err)
	}

	source, ok := feed.(interface{ HistoricalPricePeriods() []twap.Sample })
	if !ok {
		return fmt.Errorf("feed %s does not expose a raw price series", opts.Feed)
	}

	samples := source.HistoricalPricePeriods()
	if len(samples) == 0 {
		a.Logger.Info().Str("feed", opts.Feed).Msg("no raw price periods to export")
		return nil
	}

	decimals := feed.GetPriceFeedDecimals()
	snapshots := make([]storage.PriceSnapshot, 0, len(samples))
	for _, sample := range samples {
		snapshot := storage.PriceSnapshot{
			Identifier: opts.Feed,
			Bucket:     time.Unix(sample.Timestamp, 0).UTC(),
			Decimals:   decimals,
			Status:     "complete",
		}
		if sample.Price == nil {
			snapshot.Status = "no_data"
		} else {
			snapshot.Price = storage.SnapshotPrice(sample.Price, decimals)
		}
		snapshots = append(snapshots, snapshot)
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Str("feed", opts.Feed).Msg("exporting raw price periods")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.Feed, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleSnapshots(snapshots []storage.PriceSnapshot, max int) []storage.PriceSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.PriceSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.PriceSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "identifier", "price", "decimals", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snapshot := range snapshots {
		errMsg := ""
		if snapshot.Error != nil {
			errMsg = *snapshot.Error
		}
		record := []string{
			snapshot.Bucket.Format(time.RFC3339),
			snapshot.Identifier,
			snapshot.Price.String(),
			decimal.NewFromInt32(snapshot.Decimals).String(),
			snapshot.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, feed string, snapshots []storage.PriceSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(snapshots))
	prices := make([]float64, 0, len(snapshots))

	for _, snapshot := range snapshots {
		if snapshot.Status != "complete" {
			continue
		}
		x = append(x, snapshot.Bucket)
		prices = append(prices, snapshot.Price.InexactFloat64())
	}
	if len(x) == 0 {
		return errors.New("no complete snapshots to chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    feed,
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
