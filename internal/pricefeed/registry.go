package pricefeed

import "sort"

// identifierPrecision pins the output precision of identifiers whose
// convention differs from the 18-decimal default: BTC-quoted pairs
// settle in satoshi-style 8 decimals, USDC-quoted pairs in 6.
var identifierPrecision = map[string]int32{
	"DIGG-WBTC":                   8,
	"BADGER-WBTC":                 8,
	"[YD-ETH-MAR21]-USDC":         6,
	"[yUSD-SEP20]-USDC":           6,
	"BPT[[yUSD-SEP20]+USDC]-USDC": 6,
	"LP[yDAI-yUSDC-yUSDT-yTUSD]":  6,
}

// PrecisionFor returns the output decimals convention for a named
// identifier, defaulting to 18.
func PrecisionFor(name string) int32 {
	if precision, ok := identifierPrecision[name]; ok {
		return precision
	}
	return 18
}

// AnnotateDecimals returns a copy of raw where every config tree is
// fully decimals-specified: unset roots take precisionFor(name), unset
// children take 18. Pure; the input maps are never mutated.
func AnnotateDecimals(raw map[string]Config, precisionFor func(string) int32) map[string]Config {
	out := make(map[string]Config, len(raw))
	for name, cfg := range raw {
		out[name] = cfg.annotateDecimals(precisionFor(name))
	}
	return out
}

// Registry serves named, fully annotated feed configurations. It is
// immutable after construction; Lookup hands out copies.
type Registry struct {
	configs map[string]Config
	names   []string
}

// NewRegistry annotates raw configs and freezes them.
func NewRegistry(raw map[string]Config, precisionFor func(string) int32) *Registry {
	configs := AnnotateDecimals(raw, precisionFor)
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{configs: configs, names: names}
}

// DefaultRegistry wraps the built-in identifier configs.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultConfigs(), PrecisionFor)
}

// Lookup returns the annotated config for name.
func (r *Registry) Lookup(name string) (Config, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names lists the registered identifiers, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// DefaultConfigs returns the built-in feed wiring for approved
// identifiers. Decimals are left unset here; AnnotateDecimals pins
// them when the registry is built.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		// Compound-style receipt tokens against their underlying.
		"cDAI-DAI":  {Kind: KindCompound, Address: "0x5d3a536e4d6dbd6114cc1ead35777bab948e3643"},
		"cETH-ETH":  {Kind: KindCompound, Address: "0x4ddc2d193948926d02f9b1fe9e1daa0718270ed5"},
		"crETH-ETH": {Kind: KindCompound, Address: "0xd06527d5e56a3495252a528c4987003b712860ee"},

		// Vault share prices.
		"YVAULT[LP[yDAI-yUSDC-yUSDT-yTUSD]]": {Kind: KindVault, Address: "0x5dbcf33d8c2e976c6b560249878e6f1491bca25c"},
		"BBADGER-BADGER":                     {Kind: KindVault, Address: "0x19d97d8fa813ee2f51ad4b4e04ea08baf4dffc28"},
		"iFARM-FARM":                         {Kind: KindHarvestVault, Address: "0x1571eD0bed4D987fe2b498DdBaE7DFA19519F651"},

		// Weighted-pool spot prices.
		"[YD-ETH-MAR21]-USDC": {
			Kind:         KindBalancerSpot,
			PoolAddress:  "0x5e065D534d1DAaf9E6222AfA1D09e7Dac6cbD0f7",
			QuoteAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			BaseAddress:  "0x90f802c7e8fb5d40b0de583e34c065a3bd2020d8",
		},
		"[yUSD-SEP20]-USDC": {
			Kind:         KindBalancerSpot,
			PoolAddress:  "0x58ef3abab72c6c365d4d0d8a70039752b9f32bc9",
			QuoteAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			BaseAddress:  "0x81ab848898b5ffd3354dbbefb333d5d183eedcb5",
		},

		// Constant-product spot prices, medianized across venues.
		"WBTC-ETH": {
			Kind:            KindMedianizer,
			MedianizedFeeds: []Config{
				{Kind: KindUniswapSpot, PoolAddress: "0xCEfF51756c56CeFFCA006cD410B03FFC46dd3a58"},
				{Kind: KindUniswapSpot, PoolAddress: "0xBb2b8038a1640196FbE3e38816F3e67Cba72D940"},
			},
		},
		"DIGG-WBTC": {
			Kind:            KindMedianizer,
			MedianizedFeeds: []Config{
				{Kind: KindUniswapSpot, PoolAddress: "0x9a13867048e01c663ce8ce2fe0cdae69ff9f35e3", InvertPrice: true},
				{Kind: KindUniswapSpot, PoolAddress: "0xe86204c4eddd2f70ee00ead6805f917671f56c52", InvertPrice: true},
			},
		},
		"BADGER-WBTC": {
			Kind:            KindMedianizer,
			ComputeMean:     true,
			MedianizedFeeds: []Config{
				{Kind: KindUniswapSpot, PoolAddress: "0x110492b31c59716ac47337e616804e3e3adc0b4a", InvertPrice: true},
				{Kind: KindUniswapSpot, PoolAddress: "0xcd7989894bc033581532d2cd88da5db0a4b12859", InvertPrice: true},
			},
		},

		// CRV priced in ETH, with a second venue as fallback.
		"CRV-ETH": {
			Kind:         KindFallback,
			OrderedFeeds: []Config{
				{Kind: KindUniswapSpot, PoolAddress: "0x3dA1313aE46132A397D90d95B1424A9A7e3e0fCE", InvertPrice: true},
				{Kind: KindUniswapSpot, PoolAddress: "0x58Dc5a51fE44589BEb22E8CE67720B5BC5378009"},
			},
		},

		// StableSwap quotes between underlying stables.
		"TUSD-DAI": {
			Kind:         KindCurveSpot,
			PoolAddress:  "0x45F783CCE6B7FF23B2ab2D70e416cdb7D6055f51",
			BaseAddress:  "0x0000000000085d4780B73119b644AE5ecd22b376",
			QuoteAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		},
		"TUSD-USDC": {
			Kind:         KindCurveSpot,
			PoolAddress:  "0x45F783CCE6B7FF23B2ab2D70e416cdb7D6055f51",
			BaseAddress:  "0x0000000000085d4780B73119b644AE5ecd22b376",
			QuoteAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		},

		// Per-share redemption value of the yPool LP token, summed
		// over its underlying stables.
		"LP[yDAI-yUSDC-yUSDT-yTUSD]": {
			Kind:        KindExpression,
			Expression:  `LP\[DAI\] + LP\[USDC\] + LP\[USDT\] + LP\[TUSD\] * TUSD\-DAI`,
			CustomFeeds: map[string]Config{
				"LP[DAI]": {
					Kind:         KindLPCurve,
					LPAddress:    "0xdf5e0e81dff6faf3a7e52ba697820c5e32d806a8",
					TokenAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
				},
				"LP[USDC]": {
					Kind:         KindLPCurve,
					LPAddress:    "0xdf5e0e81dff6faf3a7e52ba697820c5e32d806a8",
					TokenAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				},
				"LP[USDT]": {
					Kind:         KindLPCurve,
					LPAddress:    "0xdf5e0e81dff6faf3a7e52ba697820c5e32d806a8",
					TokenAddress: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
				},
				"LP[TUSD]": {
					Kind:         KindLPCurve,
					LPAddress:    "0xdf5e0e81dff6faf3a7e52ba697820c5e32d806a8",
					TokenAddress: "0x0000000000085d4780B73119b644AE5ecd22b376",
				},
				"TUSD-DAI": {
					Kind:         KindCurveSpot,
					PoolAddress:  "0x45F783CCE6B7FF23B2ab2D70e416cdb7D6055f51",
					BaseAddress:  "0x0000000000085d4780B73119b644AE5ecd22b376",
					QuoteAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
				},
			},
		},

		// Pool-share decompositions of Uniswap and Balancer LPs.
		"UNI-V2[YAM-LP[yDAI-yUSDC-yUSDT-yTUSD]]": {
			Kind:        KindExpression,
			Expression:  `UNI\-V2\[YAM\] * YAM\-LP + UNI\-V2\[LP\]`,
			CustomFeeds: map[string]Config{
				"UNI-V2[YAM]": {
					Kind:         KindLPUniswap,
					PoolAddress:  "0x2c7a51a357d5739c5c74bf3c96816849d2c9f726",
					TokenAddress: "0x0e2298e3b3390e3b945a5456fbf59ecc3f55da16",
				},
				"UNI-V2[LP]": {
					Kind:         KindLPUniswap,
					PoolAddress:  "0x2c7a51a357d5739c5c74bf3c96816849d2c9f726",
					TokenAddress: "0xdf5e0e81dff6faf3a7e52ba697820c5e32d806a8",
				},
				"YAM-LP": {
					Kind:        KindUniswapSpot,
					PoolAddress: "0x2c7a51a357d5739c5c74bf3c96816849d2c9f726",
				},
			},
		},
		"BPT[[yUSD-SEP20]+USDC]-USDC": {
			Kind:        KindExpression,
			Expression:  `BPT\[yUSD\-SEP20\] * \[yUSD\-SEP20\]\-USDC + BPT\[USDC\]`,
			CustomFeeds: map[string]Config{
				"BPT[yUSD-SEP20]": {
					Kind:         KindLPBalancer,
					PoolAddress:  "0x58ef3abab72c6c365d4d0d8a70039752b9f32bc9",
					TokenAddress: "0x81ab848898b5ffd3354dbbefb333d5d183eedcb5",
				},
				"BPT[USDC]": {
					Kind:         KindLPBalancer,
					PoolAddress:  "0x58ef3abab72c6c365d4d0d8a70039752b9f32bc9",
					TokenAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
				},
				"[yUSD-SEP20]-USDC": {
					Kind:         KindBalancerSpot,
					PoolAddress:  "0x58ef3abab72c6c365d4d0d8a70039752b9f32bc9",
					QuoteAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
					BaseAddress:  "0x81ab848898b5ffd3354dbbefb333d5d183eedcb5",
				},
			},
		},

		// Event-sourced TWAP off the ETH/BNT converter.
		"BNT-ETH-TWAP": {
			Kind:       KindRateTWAP,
			Address:    "0xb1CD6e4153B2a390Cf00A6556b0fC1458C4A5533",
			TWAPLength: 3600,
			Lookback:   7200,
		},
	}
}
