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

// LendingFeed tracks the exchange rate of a Compound-style receipt
// token in terms of its underlying. The stored rate is brought forward
// between accrual snapshots:
//
//	newRate = (storedRate*1e18 + supplyRatePerBlock*blockDelta*storedRate) / 1e18
//
// with half-up rounding, then rescaled from the underlying asset's
// precision to the receipt token's precision.
type LendingFeed struct {
	snapshotFeed

	market common.Address
	reader source.LendingReader
	tokens *tokenCache

	marketDecimals     int32
	underlyingDecimals int32
}

// LendingOptions configure a LendingFeed.
type LendingOptions struct {
	Market                common.Address
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewLendingFeed constructs the feed.
func NewLendingFeed(opts LendingOptions, reader source.LendingReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*LendingFeed, error) {
	if opts.Market == (common.Address{}) {
		return nil, fmt.Errorf("lending feed requires a market address")
	}

	f := &LendingFeed{
		market: opts.Market,
		reader: reader,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("Lending-%s", opts.Market.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "lending_feed").Logger(),
		prepare:               f.resolveDecimals,
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *LendingFeed) resolveDecimals(ctx context.Context) error {
	f.marketDecimals = f.tokens.decimals(ctx, f.market)

	// Native-asset markets have no underlying() accessor; those use 18
	// decimals by convention.
	underlying, err := f.reader.LendingUnderlying(ctx, f.market)
	if err != nil || underlying == (common.Address{}) {
		f.underlyingDecimals = 18
		return nil
	}
	f.underlyingDecimals = f.tokens.decimals(ctx, underlying)
	return nil
}

func (f *LendingFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	accrualBlock, err := f.reader.AccrualBlockNumber(ctx, f.market, block.Number)
	if err != nil {
		return nil, nil
	}
	stored, err := f.reader.ExchangeRateStored(ctx, f.market, block.Number)
	if err != nil {
		return nil, nil
	}
	supplyRate, err := f.reader.SupplyRatePerBlock(ctx, f.market, block.Number)
	if err != nil {
		return nil, nil
	}
	if block.Number < accrualBlock {
		return nil, nil
	}

	blockDelta := new(big.Int).SetUint64(block.Number - accrualBlock)
	accrued := new(big.Int).Mul(supplyRate, blockDelta)
	accrued.Mul(accrued, stored)

	rate := new(big.Int).Mul(stored, decimals.Pow10(18))
	rate.Add(rate, accrued)
	rate = decimals.DivRound(rate, decimals.Pow10(18))

	return decimals.Convert(rate, f.underlyingDecimals, f.marketDecimals), nil
}

var _ PriceFeed = (*LendingFeed)(nil)
