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

// shareRedemption computes how much of a tracked token one LP share
// redeems for: tokensInPool * 1e18 / totalSupply, half-up. A zero
// supply is a well-defined zero price per share (a liquidated pool),
// not missing data.
func shareRedemption(tokensInPool, totalSupply *big.Int) *big.Int {
	if tokensInPool == nil || totalSupply == nil {
		return nil
	}
	if totalSupply.Sign() == 0 {
		return big.NewInt(0)
	}
	price := new(big.Int).Mul(tokensInPool, decimals.Pow10(18))
	return decimals.DivRound(price, totalSupply)
}

// LPUniswapFeed tracks how much of one reserve token a single
// constant-product LP share is redeemable for.
type LPUniswapFeed struct {
	snapshotFeed

	pool   common.Address
	token  common.Address
	pairs  source.PairReader
	supply source.SupplyReader
	tokens *tokenCache
}

// LPShareOptions configure an LP share-redemption feed.
type LPShareOptions struct {
	Pool                  common.Address
	Token                 common.Address
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewLPUniswapFeed constructs the feed.
func NewLPUniswapFeed(opts LPShareOptions, pairs source.PairReader, supply source.SupplyReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*LPUniswapFeed, error) {
	if opts.Pool == (common.Address{}) || opts.Token == (common.Address{}) {
		return nil, fmt.Errorf("lp uniswap feed requires pool and token addresses")
	}

	f := &LPUniswapFeed{
		pool:   opts.Pool,
		token:  opts.Token,
		pairs:  pairs,
		supply: supply,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("LPUniswap-%s-%s", opts.Pool.Hex(), opts.Token.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "lp_uniswap_feed").Logger(),
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *LPUniswapFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	token0, token1, err := f.pairs.PairTokens(ctx, f.pool)
	if err != nil {
		return nil, nil
	}
	raw0, raw1, err := f.pairs.Reserves(ctx, f.pool, block.Number)
	if err != nil {
		return nil, nil
	}
	rawSupply, err := f.supply.TotalSupply(ctx, f.pool, block.Number)
	if err != nil {
		return nil, nil
	}

	reserve, reserveToken := raw0, token0
	if f.token == token1 {
		reserve, reserveToken = raw1, token1
	}

	totalSupply := decimals.Convert(rawSupply, f.tokens.decimals(ctx, f.pool), 18)
	tokensInPool := decimals.Convert(reserve, f.tokens.decimals(ctx, reserveToken), 18)

	price := shareRedemption(tokensInPool, totalSupply)
	return decimals.Convert(price, 18, f.decimals), nil
}

// LPBalancerFeed tracks how much of one pool token a single weighted
// pool share is redeemable for.
type LPBalancerFeed struct {
	snapshotFeed

	pool   common.Address
	token  common.Address
	pools  source.WeightedPoolReader
	supply source.SupplyReader
	tokens *tokenCache
}

// NewLPBalancerFeed constructs the feed.
func NewLPBalancerFeed(opts LPShareOptions, pools source.WeightedPoolReader, supply source.SupplyReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*LPBalancerFeed, error) {
	if opts.Pool == (common.Address{}) || opts.Token == (common.Address{}) {
		return nil, fmt.Errorf("lp balancer feed requires pool and token addresses")
	}

	f := &LPBalancerFeed{
		pool:   opts.Pool,
		token:  opts.Token,
		pools:  pools,
		supply: supply,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("LPBalancer-%s-%s", opts.Pool.Hex(), opts.Token.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "lp_balancer_feed").Logger(),
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *LPBalancerFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	rawBalance, err := f.pools.PoolBalance(ctx, f.pool, f.token, block.Number)
	if err != nil || rawBalance.Sign() == 0 {
		return nil, nil
	}
	rawSupply, err := f.supply.TotalSupply(ctx, f.pool, block.Number)
	if err != nil {
		return nil, nil
	}

	totalSupply := decimals.Convert(rawSupply, f.tokens.decimals(ctx, f.pool), 18)
	tokensInPool := decimals.Convert(rawBalance, f.tokens.decimals(ctx, f.token), 18)

	price := shareRedemption(tokensInPool, totalSupply)
	return decimals.Convert(price, 18, f.decimals), nil
}

var _ PriceFeed = (*LPUniswapFeed)(nil)

var _ PriceFeed = (*LPBalancerFeed)(nil)
