// Package blockfinder maps wall-clock timestamps to historical block
// snapshots. A single Finder is meant to be shared by every feed in
// the process so lookups amortize across the whole feed tree.
package blockfinder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/source"
)

// Finder performs cached binary searches over the chain's height
// space. The chain is monotonic, so cache entries never expire.
type Finder struct {
	reader source.BlockReader
	cache  Cache
	logger zerolog.Logger
}

// New constructs a Finder. A nil cache falls back to an in-process
// map cache.
func New(reader source.BlockReader, cache Cache, logger zerolog.Logger) *Finder {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Finder{
		reader: reader,
		cache:  cache,
		logger: logger.With().Str("component", "block_finder").Logger(),
	}
}

func (f *Finder) blockByNumber(ctx context.Context, number uint64) (source.Block, error) {
	if b, ok := f.cache.GetByNumber(ctx, number); ok {
		return b, nil
	}
	b, err := f.reader.BlockByNumber(ctx, number)
	if err != nil {
		return source.Block{}, err
	}
	f.cache.SetByNumber(ctx, number, b)
	return b, nil
}

// GetBlockForTimestamp returns the latest block whose timestamp is at
// or before t. Every feed sharing this Finder gets the same answer for
// the same t, which keeps historical prices consistent across feeds.
func (f *Finder) GetBlockForTimestamp(ctx context.Context, t int64) (source.Block, error) {
	if b, ok := f.cache.GetByTime(ctx, t); ok {
		return b, nil
	}

	latest, err := f.reader.LatestBlock(ctx)
	if err != nil {
		return source.Block{}, err
	}
	f.cache.SetByNumber(ctx, latest.Number, latest)

	if latest.Timestamp <= t {
		f.cache.SetByTime(ctx, t, latest)
		return latest, nil
	}

	genesis, err := f.blockByNumber(ctx, 0)
	if err != nil {
		return source.Block{}, err
	}
	if genesis.Timestamp > t {
		return source.Block{}, fmt.Errorf("time %d precedes the earliest block", t)
	}

	// Invariant: lo.timestamp <= t < hi.timestamp.
	lo, hi := uint64(0), latest.Number
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		b, err := f.blockByNumber(ctx, mid)
		if err != nil {
			return source.Block{}, err
		}
		if b.Timestamp <= t {
			lo = mid
		} else {
			hi = mid
		}
	}

	found, err := f.blockByNumber(ctx, lo)
	if err != nil {
		return source.Block{}, err
	}
	f.cache.SetByTime(ctx, t, found)
	return found, nil
}
