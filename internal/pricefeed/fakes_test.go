package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/source"
)

// staticFeed answers composite-feed queries with canned values.
type staticFeed struct {
	price      *big.Int
	historical *big.Int
	histErr    error
	decimals   int32
	lastUpdate int64
	updated    bool
	lookback   int64
	updateErr  error
	updates    int
}

func (s *staticFeed) GetCurrentPrice() *big.Int { return s.price }

func (s *staticFeed) GetHistoricalPrice(_ context.Context, _ int64) (*big.Int, error) {
	if s.histErr != nil {
		return nil, s.histErr
	}
	if s.historical != nil {
		return s.historical, nil
	}
	return s.price, nil
}

func (s *staticFeed) GetLastUpdateTime() (int64, bool) { return s.lastUpdate, s.updated }

func (s *staticFeed) GetLookback() int64 { return s.lookback }

func (s *staticFeed) GetPriceFeedDecimals() int32 { return s.decimals }

func (s *staticFeed) Update(_ context.Context) error {
	s.updates++
	return s.updateErr
}

// fakeChain is a linear chain: block n carries timestamp n*15.
type fakeChain struct {
	head uint64
}

func (c *fakeChain) BlockByNumber(_ context.Context, number uint64) (source.Block, error) {
	if number > c.head {
		return source.Block{}, fmt.Errorf("block %d beyond head %d", number, c.head)
	}
	return source.Block{Number: number, Timestamp: int64(number) * 15}, nil
}

func (c *fakeChain) LatestBlock(ctx context.Context) (source.Block, error) {
	return c.BlockByNumber(ctx, c.head)
}

type fakeTokens struct {
	decimals map[common.Address]int32
}

func (t *fakeTokens) TokenInfo(_ context.Context, token common.Address) (source.TokenInfo, error) {
	dec, ok := t.decimals[token]
	if !ok {
		return source.TokenInfo{}, fmt.Errorf("unknown token %s", token.Hex())
	}
	return source.TokenInfo{Decimals: dec}, nil
}

type fakePair struct {
	token0, token1     common.Address
	reserve0, reserve1 *big.Int
	reads              int
}

func (p *fakePair) PairTokens(_ context.Context, _ common.Address) (common.Address, common.Address, error) {
	return p.token0, p.token1, nil
}

func (p *fakePair) Reserves(_ context.Context, _ common.Address, _ uint64) (*big.Int, *big.Int, error) {
	p.reads++
	return p.reserve0, p.reserve1, nil
}

func newTestFinder(chain source.BlockReader) *blockfinder.Finder {
	return blockfinder.New(chain, nil, zerolog.Nop())
}

// manualClock drives feed time from the test.
type manualClock struct {
	now int64
}

func (c *manualClock) clock() Clock {
	return func() int64 { return c.now }
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}
