package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/source"
)

type fakeRateReader struct {
	token0, token1 common.Address
	weight         *big.Int
	events         []source.RateEvent
	queries        int
	failQueries    bool
}

func (r *fakeRateReader) ReserveTokens(_ context.Context, _ common.Address) (common.Address, common.Address, error) {
	return r.token0, r.token1, nil
}

func (r *fakeRateReader) ReserveWeight(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(r.weight), nil
}

func (r *fakeRateReader) RateUpdates(_ context.Context, _ common.Address, fromBlock, toBlock uint64) ([]source.RateEvent, error) {
	r.queries++
	if r.failQueries {
		return nil, errors.New("log query failed")
	}
	var out []source.RateEvent
	for _, ev := range r.events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newRateTWAPFixture(t *testing.T, clock Clock, reader *fakeRateReader) *RateTWAPFeed {
	t.Helper()

	tokens := &fakeTokens{decimals: map[common.Address]int32{reader.token0: 18}}
	feed, err := NewRateTWAPFeed(RateTWAPOptions{
		Converter:             addr(7),
		TWAPLength:            600,
		Lookback:              600,
		PriceFeedDecimals:     18,
		MinTimeBetweenUpdates: 60,
		AverageBlockTime:      15,
	}, reader, tokens, &fakeChain{head: 1000}, clock, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 feed 失败: %v", err)
	}
	return feed
}

func newRateReader() *fakeRateReader {
	token0 := addr(5)
	return &fakeRateReader{
		token0: token0,
		token1: nativeAsset,
		weight: big.NewInt(500000),
		// Deliberately unsorted; Update must order by block.
		events: []source.RateEvent{
			{BlockNumber: 970, TxIndex: 1, LogIndex: 0, Base: nativeAsset, RateN: e18(1), RateD: e18(4)},
			{BlockNumber: 920, TxIndex: 0, LogIndex: 2, Base: nativeAsset, RateN: e18(1), RateD: e18(2)},
			// Unrelated reserve updates never contribute.
			{BlockNumber: 950, TxIndex: 0, LogIndex: 0, Base: addr(99), RateN: e18(1), RateD: e18(9)},
		},
	}
}

func TestRateTWAPCurrentPrice(t *testing.T) {
	clock := &manualClock{now: 15000}
	reader := newRateReader()
	feed := newRateTWAPFixture(t, clock.clock(), reader)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	// Window [14400, 15000]: price 2 for 150s (block 920 carries in),
	// then price 4 for 450s (block 970, ts 14550).
	want := new(big.Int).Div(new(big.Int).Add(new(big.Int).Mul(e18(2), big.NewInt(150)), new(big.Int).Mul(e18(4), big.NewInt(450))), big.NewInt(600))
	if got := feed.GetCurrentPrice(); got == nil || got.Cmp(want) != 0 {
		t.Fatalf("期望 TWAP %s, 实际 %v", want, got)
	}

	if got := feed.LastBlockPrice(); got.Cmp(e18(4)) != 0 {
		t.Fatalf("最近一次事件价格应为 4, 实际 %s", got)
	}
	if periods := feed.HistoricalPricePeriods(); len(periods) != 2 {
		t.Fatalf("无关事件应被过滤, 样本数 %d", len(periods))
	}
}

func TestRateTWAPHistoricalPrice(t *testing.T) {
	clock := &manualClock{now: 15000}
	feed := newRateTWAPFixture(t, clock.clock(), newRateReader())

	if _, err := feed.GetHistoricalPrice(context.Background(), 14550); err == nil {
		t.Fatal("未更新前历史查询应失败")
	}

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	// At 14550 the window [13950, 14550] only sees the block 920 price.
	price, err := feed.GetHistoricalPrice(context.Background(), 14550)
	if err != nil {
		t.Fatalf("历史查询失败: %v", err)
	}
	if price.Cmp(e18(2)) != 0 {
		t.Fatalf("期望 2, 实际 %s", price)
	}
}

func TestRateTWAPOutOfLookback(t *testing.T) {
	clock := &manualClock{now: 15000}
	feed := newRateTWAPFixture(t, clock.clock(), newRateReader())

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	_, err := feed.GetHistoricalPrice(context.Background(), 14000)
	var outOfLookback *OutOfLookbackError
	if !errors.As(err, &outOfLookback) {
		t.Fatalf("窗口之前的查询应返回 OutOfLookbackError, 实际 %v", err)
	}
	if outOfLookback.Earliest != 14400 {
		t.Fatalf("期望窗口起点 14400, 实际 %d", outOfLookback.Earliest)
	}
}

func TestRateTWAPQueryFailureIsHard(t *testing.T) {
	clock := &manualClock{now: 15000}
	reader := newRateReader()
	reader.failQueries = true
	feed := newRateTWAPFixture(t, clock.clock(), reader)

	if err := feed.Update(context.Background()); err == nil {
		t.Fatal("事件查询失败必须上抛, 否则 TWAP 会悄悄失真")
	}
	if got := feed.GetCurrentPrice(); got != nil {
		t.Fatalf("失败的更新不应留下价格, 实际 %s", got)
	}
}

func TestRateTWAPThrottle(t *testing.T) {
	clock := &manualClock{now: 15000}
	reader := newRateReader()
	feed := newRateTWAPFixture(t, clock.clock(), reader)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	queries := reader.queries

	clock.now = 15030
	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	if reader.queries != queries {
		t.Fatalf("节流窗口内不应重新查询, 查询数 %d -> %d", queries, reader.queries)
	}
}

func TestRateTWAPZeroWeightFailsUpdate(t *testing.T) {
	clock := &manualClock{now: 15000}
	reader := newRateReader()
	reader.weight = big.NewInt(0)
	feed := newRateTWAPFixture(t, clock.clock(), reader)

	if err := feed.Update(context.Background()); err == nil {
		t.Fatal("零权重的 converter 应导致更新失败")
	}
	if got := feed.GetCurrentPrice(); got != nil {
		t.Fatalf("零权重下不应产生价格, 实际 %s", got)
	}
}

func TestRateTWAPNoEvents(t *testing.T) {
	clock := &manualClock{now: 15000}
	reader := newRateReader()
	reader.events = nil
	feed := newRateTWAPFixture(t, clock.clock(), reader)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("无事件的更新不应报错: %v", err)
	}
	if got := feed.GetCurrentPrice(); got != nil {
		t.Fatalf("无事件应返回 nil, 实际 %s", got)
	}
	if _, ok := feed.GetLastUpdateTime(); !ok {
		t.Fatal("无事件的更新仍应推进更新时间")
	}
}
