package pricefeed

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/source"
)

// Deps are the collaborators a feed tree is built against. One Deps
// value is shared across every feed the factory constructs, so feeds
// materialized together share the block finder's cache.
type Deps struct {
	Chain   source.BlockReader
	Tokens  source.TokenReader
	Supply  source.SupplyReader
	Pools   source.WeightedPoolReader
	Pairs   source.PairReader
	Lending source.LendingReader
	Vaults  source.VaultReader
	Swaps   source.StableSwapReader
	Rates   source.RateEventReader

	Finder *blockfinder.Finder
	Clock  Clock
	Logger zerolog.Logger

	// AverageBlockTime sizes event queries for rate TWAP feeds;
	// zero means the feed's own default.
	AverageBlockTime float64
}

func (d Deps) clock() Clock {
	if d.Clock == nil {
		return SystemClock
	}
	return d.Clock
}

// NewFeed materializes the feed tree described by cfg. The match over
// Kind is exhaustive; an unknown kind or a missing required parameter
// fails here, never at pricing time.
func NewFeed(name string, cfg Config, deps Deps) (PriceFeed, error) {
	switch cfg.Kind {
	case KindMedianizer:
		if len(cfg.MedianizedFeeds) == 0 {
			return nil, fmt.Errorf("%s: medianizer requires medianizedFeeds", name)
		}
		children, err := buildChildren(name, cfg.MedianizedFeeds, deps)
		if err != nil {
			return nil, err
		}
		return NewMedianizer(name, children, cfg.ComputeMean, cfg.feedDecimals(), deps.Logger)

	case KindFallback:
		if len(cfg.OrderedFeeds) == 0 {
			return nil, fmt.Errorf("%s: fallback requires orderedFeeds", name)
		}
		children, err := buildChildren(name, cfg.OrderedFeeds, deps)
		if err != nil {
			return nil, err
		}
		return NewFallback(name, children, cfg.feedDecimals(), deps.Logger)

	case KindExpression:
		if cfg.Expression == "" {
			return nil, fmt.Errorf("%s: expression feed requires an expression", name)
		}
		children := make(map[string]PriceFeed, len(cfg.CustomFeeds))
		for symbol, childCfg := range cfg.CustomFeeds {
			child, err := NewFeed(fmt.Sprintf("%s[%s]", name, symbol), childCfg, deps)
			if err != nil {
				return nil, err
			}
			children[symbol] = child
		}
		return NewExpressionFeed(name, cfg.Expression, children, cfg.feedDecimals(), deps.Logger)

	case KindBalancerSpot:
		pool, err := parseAddress(name, "poolAddress", cfg.PoolAddress)
		if err != nil {
			return nil, err
		}
		base, err := parseAddress(name, "baseAddress", cfg.BaseAddress)
		if err != nil {
			return nil, err
		}
		quote, err := parseAddress(name, "quoteAddress", cfg.QuoteAddress)
		if err != nil {
			return nil, err
		}
		return NewBalancerSpotFeed(BalancerSpotOptions{
			Pool:                  pool,
			Base:                  base,
			Quote:                 quote,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
		}, deps.Pools, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindUniswapSpot:
		pair, err := parseAddress(name, "poolAddress", cfg.PoolAddress)
		if err != nil {
			return nil, err
		}
		return NewUniswapSpotFeed(UniswapSpotOptions{
			Pair:                  pair,
			InvertPrice:           cfg.InvertPrice,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
		}, deps.Pairs, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindCompound:
		market, err := parseAddress(name, "address", cfg.Address)
		if err != nil {
			return nil, err
		}
		return NewLendingFeed(LendingOptions{
			Market:                market,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
		}, deps.Lending, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindVault, KindHarvestVault:
		vault, err := parseAddress(name, "address", cfg.Address)
		if err != nil {
			return nil, err
		}
		resolver := YearnUnderlying
		if cfg.Kind == KindHarvestVault {
			resolver = HarvestUnderlying
		}
		return NewVaultFeed(VaultOptions{
			Vault:                 vault,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
		}, resolver, deps.Vaults, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindLPUniswap:
		opts, err := lpShareOptions(name, cfg)
		if err != nil {
			return nil, err
		}
		return NewLPUniswapFeed(opts, deps.Pairs, deps.Supply, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindLPBalancer:
		opts, err := lpShareOptions(name, cfg)
		if err != nil {
			return nil, err
		}
		return NewLPBalancerFeed(opts, deps.Pools, deps.Supply, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindCurveSpot:
		pool, err := parseAddress(name, "poolAddress", cfg.PoolAddress)
		if err != nil {
			return nil, err
		}
		base, err := parseAddress(name, "baseAddress", cfg.BaseAddress)
		if err != nil {
			return nil, err
		}
		quote, err := parseAddress(name, "quoteAddress", cfg.QuoteAddress)
		if err != nil {
			return nil, err
		}
		return NewCurveSpotFeed(CurveSpotOptions{
			Pool:                  pool,
			Base:                  base,
			Quote:                 quote,
			BaseAmount:            cfg.BaseAmount,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
		}, deps.Swaps, deps.Vaults, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindLPCurve:
		lp, err := parseAddress(name, "lpAddress", cfg.LPAddress)
		if err != nil {
			return nil, err
		}
		token, err := parseAddress(name, "tokenAddress", cfg.TokenAddress)
		if err != nil {
			return nil, err
		}
		return NewLPCurveFeed(LPCurveOptions{
			LPToken:               lp,
			Token:                 token,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
		}, deps.Swaps, deps.Vaults, deps.Supply, deps.Tokens, deps.Chain, deps.Finder, deps.clock(), deps.Logger)

	case KindRateTWAP:
		converter, err := parseAddress(name, "address", cfg.Address)
		if err != nil {
			return nil, err
		}
		return NewRateTWAPFeed(RateTWAPOptions{
			Converter:             converter,
			TWAPLength:            cfg.TWAPLength,
			Lookback:              cfg.Lookback,
			InvertPrice:           cfg.InvertPrice,
			PriceFeedDecimals:     cfg.feedDecimals(),
			MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
			AverageBlockTime:      deps.AverageBlockTime,
		}, deps.Rates, deps.Tokens, deps.Chain, deps.clock(), deps.Logger)

	default:
		return nil, fmt.Errorf("%s: unknown feed kind %q", name, cfg.Kind)
	}
}

func buildChildren(name string, cfgs []Config, deps Deps) ([]PriceFeed, error) {
	children := make([]PriceFeed, len(cfgs))
	for i, childCfg := range cfgs {
		child, err := NewFeed(fmt.Sprintf("%s[%d]", name, i), childCfg, deps)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	return children, nil
}

func lpShareOptions(name string, cfg Config) (LPShareOptions, error) {
	pool, err := parseAddress(name, "poolAddress", cfg.PoolAddress)
	if err != nil {
		return LPShareOptions{}, err
	}
	token, err := parseAddress(name, "tokenAddress", cfg.TokenAddress)
	if err != nil {
		return LPShareOptions{}, err
	}
	return LPShareOptions{
		Pool:                  pool,
		Token:                 token,
		PriceFeedDecimals:     cfg.feedDecimals(),
		MinTimeBetweenUpdates: cfg.minTimeBetweenUpdates(),
	}, nil
}

func parseAddress(feed, field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("%s: %s is required", feed, field)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: %s: invalid address %q", feed, field, value)
	}
	return common.HexToAddress(value), nil
}
