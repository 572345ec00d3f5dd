package pricefeed

import "fmt"

// Kind enumerates the feed constructors the factory knows. The set is
// closed: adding a kind means extending NewFeed, and the factory's
// default branch rejects anything else at construction time.
type Kind string

const (
	KindMedianizer   Kind = "medianizer"
	KindExpression   Kind = "expression"
	KindFallback     Kind = "fallback"
	KindBalancerSpot Kind = "balancerSpot"
	KindUniswapSpot  Kind = "uniswapSpot"
	KindCompound     Kind = "compound"
	KindVault        Kind = "vault"
	KindHarvestVault Kind = "harvestVault"
	KindLPUniswap    Kind = "lpUniswap"
	KindLPBalancer   Kind = "lpBalancer"
	KindCurveSpot    Kind = "curveSpot"
	KindLPCurve      Kind = "lpCurve"
	KindRateTWAP     Kind = "rateTwap"
)

// Config is one node of a feed configuration tree. Which fields apply
// depends on Kind; NewFeed validates the required ones and rejects the
// rest of the tree before any feed touches the network. Addresses stay
// hex strings here so trees can come straight out of a config file.
type Config struct {
	Kind Kind `mapstructure:"kind"`

	// Primitive feed identifiers.
	PoolAddress  string `mapstructure:"poolAddress"`
	BaseAddress  string `mapstructure:"baseAddress"`
	QuoteAddress string `mapstructure:"quoteAddress"`
	TokenAddress string `mapstructure:"tokenAddress"`
	LPAddress    string `mapstructure:"lpAddress"`
	// Address identifies a single-contract feed: a lending market, a
	// vault, or a rate converter.
	Address string `mapstructure:"address"`

	// Numeric parameters. A zero MinTimeBetweenUpdates means the
	// per-kind default; PriceFeedDecimals zero means "annotate me"
	// (see AnnotateDecimals).
	PriceFeedDecimals     int32   `mapstructure:"priceFeedDecimals"`
	MinTimeBetweenUpdates int64   `mapstructure:"minTimeBetweenUpdates"`
	Lookback              int64   `mapstructure:"lookback"`
	TWAPLength            int64   `mapstructure:"twapLength"`
	BaseAmount            float64 `mapstructure:"baseAmount"`
	InvertPrice           bool    `mapstructure:"invertPrice"`
	ComputeMean           bool    `mapstructure:"computeMean"`

	// Composite wiring.
	Expression      string            `mapstructure:"expression"`
	MedianizedFeeds []Config          `mapstructure:"medianizedFeeds"`
	OrderedFeeds    []Config          `mapstructure:"orderedFeeds"`
	CustomFeeds     map[string]Config `mapstructure:"customFeeds"`
}

// defaultMinTimeBetweenUpdates throttles snapshot feeds; the
// event-sourced TWAP feed defaults to no throttle because its update
// is already incremental.
const defaultMinTimeBetweenUpdates = 60

func (c Config) minTimeBetweenUpdates() int64 {
	if c.MinTimeBetweenUpdates == 0 && c.Kind != KindRateTWAP {
		return defaultMinTimeBetweenUpdates
	}
	return c.MinTimeBetweenUpdates
}

func (c Config) feedDecimals() int32 {
	if c.PriceFeedDecimals == 0 {
		return 18
	}
	return c.PriceFeedDecimals
}

// annotateDecimals returns a copy of the tree with every unset
// priceFeedDecimals pinned: the root to rootDecimals, nested children
// to 18. The registry runs this pass once so a served config is always
// fully specified.
func (c Config) annotateDecimals(rootDecimals int32) Config {
	out := c
	if out.PriceFeedDecimals == 0 {
		out.PriceFeedDecimals = rootDecimals
	}

	if len(c.MedianizedFeeds) > 0 {
		out.MedianizedFeeds = make([]Config, len(c.MedianizedFeeds))
		for i, child := range c.MedianizedFeeds {
			out.MedianizedFeeds[i] = child.annotateDecimals(child.feedDecimals())
		}
	}
	if len(c.OrderedFeeds) > 0 {
		out.OrderedFeeds = make([]Config, len(c.OrderedFeeds))
		for i, child := range c.OrderedFeeds {
			out.OrderedFeeds[i] = child.annotateDecimals(child.feedDecimals())
		}
	}
	if len(c.CustomFeeds) > 0 {
		out.CustomFeeds = make(map[string]Config, len(c.CustomFeeds))
		for name, child := range c.CustomFeeds {
			out.CustomFeeds[name] = child.annotateDecimals(child.feedDecimals())
		}
	}
	return out
}

func (c Config) String() string {
	return fmt.Sprintf("Config{kind: %s, decimals: %d}", c.Kind, c.PriceFeedDecimals)
}
