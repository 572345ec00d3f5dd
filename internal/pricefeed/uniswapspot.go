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

// UniswapSpotFeed tracks the reserve ratio of a constant-product pair:
// reserve1/reserve0 by default, reserve0/reserve1 when inverted.
type UniswapSpotFeed struct {
	snapshotFeed

	pair    common.Address
	invert  bool
	reader  source.PairReader
	tokens  *tokenCache
	token0  common.Address
	token1  common.Address
	haveTok bool
}

// UniswapSpotOptions configure a UniswapSpotFeed.
type UniswapSpotOptions struct {
	Pair                  common.Address
	InvertPrice           bool
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewUniswapSpotFeed constructs the feed.
func NewUniswapSpotFeed(opts UniswapSpotOptions, reader source.PairReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*UniswapSpotFeed, error) {
	if opts.Pair == (common.Address{}) {
		return nil, fmt.Errorf("uniswap spot feed requires a pair address")
	}

	f := &UniswapSpotFeed{
		pair:   opts.Pair,
		invert: opts.InvertPrice,
		reader: reader,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("UniswapSpot-%s", opts.Pair.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "uniswap_spot_feed").Logger(),
		prepare:               f.resolveTokens,
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *UniswapSpotFeed) resolveTokens(ctx context.Context) error {
	token0, token1, err := f.reader.PairTokens(ctx, f.pair)
	if err != nil {
		return fmt.Errorf("resolve pair tokens: %w", err)
	}
	f.token0, f.token1 = token0, token1
	f.haveTok = true
	return nil
}

func (f *UniswapSpotFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	raw0, raw1, err := f.reader.Reserves(ctx, f.pair, block.Number)
	if err != nil {
		return nil, nil
	}
	reserve0 := decimals.Convert(raw0, f.tokens.decimals(ctx, f.token0), 18)
	reserve1 := decimals.Convert(raw1, f.tokens.decimals(ctx, f.token1), 18)

	var num, den *big.Int
	if f.invert {
		num, den = reserve0, reserve1
	} else {
		num, den = reserve1, reserve0
	}
	if den == nil || den.Sign() == 0 || num == nil {
		return nil, nil
	}

	price := new(big.Int).Mul(num, decimals.Pow10(18))
	price.Quo(price, den)
	if price.Sign() == 0 {
		return nil, nil
	}
	return decimals.Convert(price, 18, f.decimals), nil
}

var _ PriceFeed = (*UniswapSpotFeed)(nil)
