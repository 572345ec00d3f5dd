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

// LPCurveFeed tracks how much of one underlying coin a single
// StableSwap LP share is redeemable for.
type LPCurveFeed struct {
	snapshotFeed

	lpToken    common.Address
	token      common.Address
	reader     source.StableSwapReader
	vaults     source.VaultReader
	supply     source.SupplyReader
	tokens     *tokenCache
	swap       *stableSwapPool
	tokenIndex int
}

// LPCurveOptions configure an LPCurveFeed. Token is the underlying
// coin whose per-share balance the feed reports.
type LPCurveOptions struct {
	LPToken               common.Address
	Token                 common.Address
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewLPCurveFeed constructs the feed. The pool behind the LP token is
// resolved through the registry on first update.
func NewLPCurveFeed(opts LPCurveOptions, reader source.StableSwapReader, vaults source.VaultReader, supply source.SupplyReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*LPCurveFeed, error) {
	if opts.LPToken == (common.Address{}) || opts.Token == (common.Address{}) {
		return nil, fmt.Errorf("lp curve feed requires lp token and token addresses")
	}

	f := &LPCurveFeed{
		lpToken: opts.LPToken,
		token:   opts.Token,
		reader:  reader,
		vaults:  vaults,
		supply:  supply,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("LPCurve-%s-%s", opts.LPToken.Hex(), opts.Token.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "lp_curve_feed").Logger(),
		prepare:               f.resolvePool,
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *LPCurveFeed) resolvePool(ctx context.Context) error {
	pool, err := f.reader.PoolFromLPToken(ctx, f.lpToken)
	if err != nil {
		return fmt.Errorf("resolve pool for lp token %s: %w", f.lpToken.Hex(), err)
	}
	if pool == (common.Address{}) {
		return fmt.Errorf("lp token %s is not registered", f.lpToken.Hex())
	}

	f.swap = newStableSwapPool(pool, f.reader, f.vaults)
	if err := f.swap.prepare(ctx); err != nil {
		return err
	}
	if f.tokenIndex, err = f.swap.underlyingIndex(f.token); err != nil {
		return err
	}
	return nil
}

func (f *LPCurveFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	rawSupply, err := f.supply.TotalSupply(ctx, f.lpToken, block.Number)
	if err != nil {
		return nil, nil
	}
	totalSupply := decimals.Convert(rawSupply, f.tokens.decimals(ctx, f.lpToken), 18)

	tokensInPool, ok, err := f.swap.underlyingBalance18(ctx, f.tokenIndex, block.Number)
	if err != nil || !ok {
		return nil, nil
	}

	price := shareRedemption(tokensInPool, totalSupply)
	return decimals.Convert(price, 18, f.decimals), nil
}

var _ PriceFeed = (*LPCurveFeed)(nil)
