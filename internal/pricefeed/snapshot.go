package pricefeed

import (
	"context"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/source"
)

// snapshotFeed carries the scaffolding shared by every feed that
// derives its price from a single block snapshot: update throttling,
// per-instance serialization, and historical resolution through the
// block finder. Concrete feeds supply compute (price at a block, in
// feed decimals) and optionally prepare (one-time static lookups).
type snapshotFeed struct {
	id                    string
	decimals              int32
	minTimeBetweenUpdates int64
	clock                 Clock
	chain                 source.BlockReader
	finder                *blockfinder.Finder
	logger                zerolog.Logger

	prepare func(ctx context.Context) error
	compute func(ctx context.Context, block source.Block) (*big.Int, error)

	mux            sync.Mutex
	prepared       bool
	price          *big.Int
	lastUpdateTime int64
	updated        bool
}

func (f *snapshotFeed) GetCurrentPrice() *big.Int {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.price == nil {
		return nil
	}
	return new(big.Int).Set(f.price)
}

func (f *snapshotFeed) GetLastUpdateTime() (int64, bool) {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.lastUpdateTime, f.updated
}

func (f *snapshotFeed) GetLookback() int64 {
	// Snapshot feeds reconstruct any historical block on demand.
	return UnlimitedLookback
}

func (f *snapshotFeed) GetPriceFeedDecimals() int32 { return f.decimals }

func (f *snapshotFeed) ensurePrepared(ctx context.Context) error {
	if f.prepared || f.prepare == nil {
		f.prepared = true
		return nil
	}
	if err := f.prepare(ctx); err != nil {
		return err
	}
	f.prepared = true
	return nil
}

func (f *snapshotFeed) GetHistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	f.mux.Lock()
	err := f.ensurePrepared(ctx)
	f.mux.Unlock()
	if err != nil {
		return nil, err
	}

	block, err := f.finder.GetBlockForTimestamp(ctx, t)
	if err != nil {
		return nil, err
	}
	price, err := f.compute(ctx, block)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, &NoDataError{Feed: f.id, Time: t}
	}
	return price, nil
}

// Update recomputes the current price off the latest block. The
// instance mutex both guards state and serializes concurrent Update
// calls; within the throttle window repeated calls are no-ops.
func (f *snapshotFeed) Update(ctx context.Context) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	now := f.clock()
	if f.updated && now < f.lastUpdateTime+f.minTimeBetweenUpdates {
		return nil
	}

	if err := f.ensurePrepared(ctx); err != nil {
		f.logger.Warn().Err(err).Str("feed", f.id).Msg("feed preparation failed")
		f.setFailed(now)
		return nil
	}

	latest, err := f.chain.LatestBlock(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Str("feed", f.id).Msg("latest block unavailable")
		f.setFailed(now)
		return nil
	}

	price, err := f.compute(ctx, latest)
	if err != nil {
		f.logger.Warn().Err(err).Str("feed", f.id).Msg("price computation failed")
		price = nil
	}

	f.price = price
	f.lastUpdateTime = now
	f.updated = true
	return nil
}

// setFailed records a failed cycle: the price clears but the update
// time still advances so a broken source is not hammered every tick.
func (f *snapshotFeed) setFailed(now int64) {
	f.price = nil
	f.lastUpdateTime = now
	f.updated = true
}
