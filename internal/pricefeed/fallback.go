package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/decimals"
)

// Fallback serves prices from an ordered chain of feeds: the first
// feed that can answer wins. Later feeds only matter when everything
// before them fails, but Update keeps the whole chain warm so a
// failover does not start cold.
type Fallback struct {
	id       string
	chain    []PriceFeed
	decimals int32
	logger   zerolog.Logger
}

// NewFallback constructs a fallback chain in priority order.
func NewFallback(id string, chain []PriceFeed, priceFeedDecimals int32, logger zerolog.Logger) (*Fallback, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("fallback feed %s requires at least one child feed", id)
	}
	return &Fallback{
		id:       id,
		chain:    chain,
		decimals: priceFeedDecimals,
		logger:   logger.With().Str("component", "fallback_feed").Str("feed", id).Logger(),
	}, nil
}

func (f *Fallback) GetCurrentPrice() *big.Int {
	for _, child := range f.chain {
		if price := child.GetCurrentPrice(); price != nil {
			return decimals.Convert(price, child.GetPriceFeedDecimals(), f.decimals)
		}
	}
	return nil
}

func (f *Fallback) GetHistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	var errs []error
	for _, child := range f.chain {
		price, err := child.GetHistoricalPrice(ctx, t)
		if err == nil && price != nil {
			return decimals.Convert(price, child.GetPriceFeedDecimals(), f.decimals), nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: every feed in the chain failed: %w", f.id, errors.Join(errs...))
	}
	return nil, &NoDataError{Feed: f.id, Time: t}
}

func (f *Fallback) GetLastUpdateTime() (int64, bool) {
	var latest int64
	var any bool
	for _, child := range f.chain {
		if t, ok := child.GetLastUpdateTime(); ok {
			if !any || t > latest {
				latest = t
			}
			any = true
		}
	}
	return latest, any
}

// GetLookback reports the widest child window; some feed in the chain
// can still answer that far back.
func (f *Fallback) GetLookback() int64 {
	lookback := f.chain[0].GetLookback()
	for _, child := range f.chain[1:] {
		if l := child.GetLookback(); l > lookback {
			lookback = l
		}
	}
	return lookback
}

func (f *Fallback) GetPriceFeedDecimals() int32 { return f.decimals }

// Update refreshes every feed in the chain, not just the current
// leader.
func (f *Fallback) Update(ctx context.Context) error {
	for _, child := range f.chain {
		if err := child.Update(ctx); err != nil {
			f.logger.Warn().Err(err).Msg("chain feed update failed")
		}
	}
	return nil
}

var _ PriceFeed = (*Fallback)(nil)
