package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type fakeWeightedPool struct {
	balances map[common.Address]*big.Int
	weights  map[common.Address]*big.Int
	balErr   error
	reads    int
}

func (p *fakeWeightedPool) PoolBalance(_ context.Context, _, token common.Address, _ uint64) (*big.Int, error) {
	p.reads++
	if p.balErr != nil {
		return nil, p.balErr
	}
	return new(big.Int).Set(p.balances[token]), nil
}

func (p *fakeWeightedPool) NormalizedWeight(_ context.Context, _, token common.Address, _ uint64) (*big.Int, error) {
	return new(big.Int).Set(p.weights[token]), nil
}

// newWeightedPool holds 100 WBTC (8 decimals) against 1500 WETH at
// equal weights, a spot price of 15 WETH per WBTC.
func newWeightedPool() *fakeWeightedPool {
	half := mustBig("500000000000000000")
	return &fakeWeightedPool{
		balances: map[common.Address]*big.Int{
			addr(1): mustBig("10000000000"),
			addr(2): e18(1500),
		},
		weights: map[common.Address]*big.Int{
			addr(1): half,
			addr(2): half,
		},
	}
}

func newBalancerFixture(t *testing.T, pool *fakeWeightedPool) (*BalancerSpotFeed, *manualClock) {
	t.Helper()
	chain := &fakeChain{head: 1000}
	clk := &manualClock{now: 15010}
	tokens := &fakeTokens{decimals: map[common.Address]int32{
		addr(1): 8,
		addr(2): 18,
	}}
	feed, err := NewBalancerSpotFeed(BalancerSpotOptions{
		Pool:                  addr(3),
		Base:                  addr(1),
		Quote:                 addr(2),
		PriceFeedDecimals:     18,
		MinTimeBetweenUpdates: 60,
	}, pool, tokens, chain, newTestFinder(chain), clk.clock(), zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 balancer feed 失败: %v", err)
	}
	return feed, clk
}

func TestBalancerSpotCurrentPrice(t *testing.T) {
	feed, _ := newBalancerFixture(t, newWeightedPool())

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	price := feed.GetCurrentPrice()
	if price == nil || price.Cmp(e18(15)) != 0 {
		t.Fatalf("期望 15e18, 实际 %v", price)
	}
}

func TestBalancerSpotUnequalWeights(t *testing.T) {
	pool := newWeightedPool()
	pool.weights[addr(1)] = mustBig("800000000000000000")
	pool.weights[addr(2)] = mustBig("200000000000000000")
	feed, _ := newBalancerFixture(t, pool)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	// 15 * 0.8 / 0.2 = 60.
	price := feed.GetCurrentPrice()
	if price == nil || price.Cmp(e18(60)) != 0 {
		t.Fatalf("期望 60e18, 实际 %v", price)
	}
}

func TestBalancerSpotZeroBalanceYieldsNoData(t *testing.T) {
	pool := newWeightedPool()
	pool.balances[addr(1)] = big.NewInt(0)
	feed, _ := newBalancerFixture(t, pool)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("退化余额不应成为硬错误: %v", err)
	}
	if feed.GetCurrentPrice() != nil {
		t.Fatal("零余额应返回 nil 价格")
	}
	if _, ok := feed.GetLastUpdateTime(); !ok {
		t.Fatal("退化的更新周期也应推进更新时间")
	}
}

func TestBalancerSpotReadFailureYieldsNoData(t *testing.T) {
	pool := newWeightedPool()
	pool.balErr = errors.New("rpc down")
	feed, _ := newBalancerFixture(t, pool)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("读取失败不应成为硬错误: %v", err)
	}
	if feed.GetCurrentPrice() != nil {
		t.Fatal("读取失败后价格应为 nil")
	}
}

func TestBalancerSpotThrottle(t *testing.T) {
	pool := newWeightedPool()
	feed, clk := newBalancerFixture(t, pool)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	reads := pool.reads

	clk.now = 15040
	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	if pool.reads != reads {
		t.Fatalf("节流窗口内不应重新读取, 读取数 %d -> %d", reads, pool.reads)
	}

	clk.now = 15071
	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	if pool.reads == reads {
		t.Fatal("节流窗口过后应重新读取")
	}
}
