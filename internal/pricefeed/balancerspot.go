package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/decimals"
	"price-feed-oracle/internal/source"
)

// BalancerSpotFeed tracks the price of one weighted-pool token in
// terms of another:
//
//	price = quoteBalance * 1e18 / baseBalance * baseWeight / quoteWeight
//
// computed in raw integer math. Degenerate inputs (zero balance or
// weight, failed reads) surface as a nil price.
type BalancerSpotFeed struct {
	snapshotFeed

	pool   common.Address
	base   common.Address
	quote  common.Address
	reader source.WeightedPoolReader
	tokens *tokenCache
}

// BalancerSpotOptions configure a BalancerSpotFeed.
type BalancerSpotOptions struct {
	Pool                  common.Address
	Base                  common.Address
	Quote                 common.Address
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewBalancerSpotFeed constructs the feed. Required addresses are
// validated here; misconfiguration never surfaces at call time.
func NewBalancerSpotFeed(opts BalancerSpotOptions, reader source.WeightedPoolReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*BalancerSpotFeed, error) {
	if opts.Pool == (common.Address{}) || opts.Base == (common.Address{}) || opts.Quote == (common.Address{}) {
		return nil, fmt.Errorf("balancer spot feed requires pool, base and quote addresses")
	}

	f := &BalancerSpotFeed{
		pool:   opts.Pool,
		base:   opts.Base,
		quote:  opts.Quote,
		reader: reader,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("BalancerSpot-%s", opts.Pool.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "balancer_spot_feed").Logger(),
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

// balance reads a pool balance normalized to 18 decimals; zero and
// failed reads are nil.
func (f *BalancerSpotFeed) balance(ctx context.Context, block uint64, token common.Address) *big.Int {
	raw, err := f.reader.PoolBalance(ctx, f.pool, token, block)
	if err != nil || raw.Sign() == 0 {
		return nil
	}
	return decimals.Convert(raw, f.tokens.decimals(ctx, token), 18)
}

func (f *BalancerSpotFeed) weight(ctx context.Context, block uint64, token common.Address) *big.Int {
	raw, err := f.reader.NormalizedWeight(ctx, f.pool, token, block)
	if err != nil || raw.Sign() == 0 {
		return nil
	}
	return raw
}

func (f *BalancerSpotFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	baseBalance := f.balance(ctx, block.Number, f.base)
	quoteBalance := f.balance(ctx, block.Number, f.quote)
	baseWeight := f.weight(ctx, block.Number, f.base)
	quoteWeight := f.weight(ctx, block.Number, f.quote)
	if baseBalance == nil || quoteBalance == nil || baseWeight == nil || quoteWeight == nil {
		return nil, nil
	}

	price := new(big.Int).Mul(quoteBalance, decimals.Pow10(18))
	price.Quo(price, baseBalance)
	price.Mul(price, baseWeight)
	price.Quo(price, quoteWeight)
	if price.Sign() == 0 {
		return nil, nil
	}
	return decimals.Convert(price, 18, f.decimals), nil
}

var _ PriceFeed = (*BalancerSpotFeed)(nil)
