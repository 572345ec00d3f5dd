package pricefeed

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const testPoolAddr = "0x1111111111111111111111111111111111111111"
const testTokenAddr = "0x2222222222222222222222222222222222222222"

func testDeps() Deps {
	chain := &fakeChain{head: 100}
	return Deps{
		Chain:  chain,
		Tokens: &fakeTokens{},
		Pairs:  &fakePair{},
		Finder: newTestFinder(chain),
		Logger: zerolog.Nop(),
	}
}

func TestMinTimeBetweenUpdatesDefaults(t *testing.T) {
	if got := (Config{Kind: KindUniswapSpot}).minTimeBetweenUpdates(); got != 60 {
		t.Fatalf("快照型 feed 默认节流 60s, 实际 %d", got)
	}
	if got := (Config{Kind: KindRateTWAP}).minTimeBetweenUpdates(); got != 0 {
		t.Fatalf("事件型 TWAP 默认不节流, 实际 %d", got)
	}
	if got := (Config{Kind: KindUniswapSpot, MinTimeBetweenUpdates: 5}).minTimeBetweenUpdates(); got != 5 {
		t.Fatalf("显式配置应生效, 实际 %d", got)
	}
}

func TestAnnotateDecimals(t *testing.T) {
	raw := map[string]Config{
		"DIGG-WBTC": {
			Kind: KindMedianizer,
			MedianizedFeeds: []Config{
				{Kind: KindUniswapSpot, PoolAddress: testPoolAddr},
				{Kind: KindUniswapSpot, PoolAddress: testPoolAddr, PriceFeedDecimals: 8},
			},
		},
	}

	annotated := AnnotateDecimals(raw, PrecisionFor)

	cfg := annotated["DIGG-WBTC"]
	if cfg.PriceFeedDecimals != 8 {
		t.Fatalf("BTC 计价的根应为 8 位精度, 实际 %d", cfg.PriceFeedDecimals)
	}
	if cfg.MedianizedFeeds[0].PriceFeedDecimals != 18 {
		t.Fatalf("未指定的子 feed 应为 18 位, 实际 %d", cfg.MedianizedFeeds[0].PriceFeedDecimals)
	}
	if cfg.MedianizedFeeds[1].PriceFeedDecimals != 8 {
		t.Fatalf("显式指定的子 feed 不应被覆盖, 实际 %d", cfg.MedianizedFeeds[1].PriceFeedDecimals)
	}

	// The input tree must stay untouched.
	if raw["DIGG-WBTC"].PriceFeedDecimals != 0 {
		t.Fatal("AnnotateDecimals 不应修改输入")
	}
}

func TestPrecisionFor(t *testing.T) {
	if PrecisionFor("DIGG-WBTC") != 8 {
		t.Fatal("BTC 计价标识符应为 8 位精度")
	}
	if PrecisionFor("[yUSD-SEP20]-USDC") != 6 {
		t.Fatal("USDC 计价标识符应为 6 位精度")
	}
	if PrecisionFor("anything-else") != 18 {
		t.Fatal("默认精度应为 18")
	}
}

func TestDefaultRegistry(t *testing.T) {
	registry := DefaultRegistry()

	if len(registry.Names()) == 0 {
		t.Fatal("默认注册表不应为空")
	}

	cfg, ok := registry.Lookup("DIGG-WBTC")
	if !ok {
		t.Fatal("DIGG-WBTC 应在注册表中")
	}
	if cfg.PriceFeedDecimals != 8 {
		t.Fatalf("注册表应提供已标注精度的配置, 实际 %d", cfg.PriceFeedDecimals)
	}

	if _, ok := registry.Lookup("NOPE"); ok {
		t.Fatal("未注册的标识符不应命中")
	}
}

func TestNewFeedUnknownKind(t *testing.T) {
	_, err := NewFeed("test", Config{Kind: "cryptowatch"}, testDeps())
	if err == nil || !strings.Contains(err.Error(), "unknown feed kind") {
		t.Fatalf("未知类型应在构造时失败, 实际 %v", err)
	}
}

func TestNewFeedInvalidAddress(t *testing.T) {
	_, err := NewFeed("test", Config{Kind: KindUniswapSpot, PoolAddress: "not-an-address"}, testDeps())
	if err == nil {
		t.Fatal("非法地址应在构造时失败")
	}

	_, err = NewFeed("test", Config{Kind: KindUniswapSpot}, testDeps())
	if err == nil {
		t.Fatal("缺少地址应在构造时失败")
	}
}

func TestNewFeedBuildsCompositeTree(t *testing.T) {
	cfg := Config{
		Kind: KindMedianizer,
		MedianizedFeeds: []Config{
			{Kind: KindUniswapSpot, PoolAddress: testPoolAddr, PriceFeedDecimals: 18},
			{Kind: KindUniswapSpot, PoolAddress: testTokenAddr, PriceFeedDecimals: 18, InvertPrice: true},
		},
		PriceFeedDecimals: 18,
	}

	feed, err := NewFeed("WBTC-ETH", cfg, testDeps())
	if err != nil {
		t.Fatalf("组合树构造失败: %v", err)
	}
	if feed.GetPriceFeedDecimals() != 18 {
		t.Fatalf("期望 18 位精度, 实际 %d", feed.GetPriceFeedDecimals())
	}
}

func TestNewFeedExpressionRequiresBoundSymbols(t *testing.T) {
	cfg := Config{
		Kind:       KindExpression,
		Expression: "A * B",
		CustomFeeds: map[string]Config{
			"A": {Kind: KindUniswapSpot, PoolAddress: testPoolAddr, PriceFeedDecimals: 18},
		},
		PriceFeedDecimals: 18,
	}
	if _, err := NewFeed("test", cfg, testDeps()); err == nil {
		t.Fatal("表达式中未绑定的符号应在构造时失败")
	}
}

func TestNewFeedEveryRegistryEntryConstructs(t *testing.T) {
	registry := DefaultRegistry()
	chain := &fakeChain{head: 100}
	deps := Deps{
		Chain:            chain,
		Tokens:           &fakeTokens{},
		Supply:           nil,
		Pools:            nil,
		Pairs:            &fakePair{},
		Lending:          nil,
		Vaults:           nil,
		Swaps:            nil,
		Rates:            nil,
		Finder:           newTestFinder(chain),
		Logger:           zerolog.Nop(),
		AverageBlockTime: 15,
	}

	for _, name := range registry.Names() {
		cfg, _ := registry.Lookup(name)
		if _, err := NewFeed(name, cfg, deps); err != nil {
			t.Fatalf("注册表条目 %s 构造失败: %v", name, err)
		}
	}
}
