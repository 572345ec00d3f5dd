package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/decimals"
	"price-feed-oracle/internal/source"
)

// rateMethodVaultShare marks pools whose wrapped coins report their
// underlying rate through getPricePerFullShare.
const rateMethodVaultShare = "0x77c7b8fc"

// stableSwapPool reproduces a StableSwap pool's invariant math off
// chain. Balance and rate reads are cached per block; the caches are
// append-only because a mined block never changes.
type stableSwapPool struct {
	pool   common.Address
	reader source.StableSwapReader
	vaults source.VaultReader

	coins        source.PoolCoins
	rateMethodID string

	mux      sync.Mutex
	balances map[uint64][]*big.Int
	rates    map[uint64][]*big.Int
}

func newStableSwapPool(pool common.Address, reader source.StableSwapReader, vaults source.VaultReader) *stableSwapPool {
	return &stableSwapPool{
		pool:     pool,
		reader:   reader,
		vaults:   vaults,
		balances: make(map[uint64][]*big.Int),
		rates:    make(map[uint64][]*big.Int),
	}
}

func (p *stableSwapPool) prepare(ctx context.Context) error {
	coins, err := p.reader.PoolCoins(ctx, p.pool)
	if err != nil {
		return fmt.Errorf("read pool coins: %w", err)
	}
	if len(coins.Coins) == 0 {
		return fmt.Errorf("pool %s has no registered coins", p.pool.Hex())
	}
	rateMethodID, err := p.reader.RateMethodID(ctx, p.pool)
	if err != nil {
		return fmt.Errorf("read rate method id: %w", err)
	}
	p.coins = coins
	p.rateMethodID = rateMethodID
	return nil
}

func (p *stableSwapPool) nCoins() int { return len(p.coins.Coins) }

func (p *stableSwapPool) blockBalances(ctx context.Context, block uint64) ([]*big.Int, error) {
	p.mux.Lock()
	cached, ok := p.balances[block]
	p.mux.Unlock()
	if ok {
		return cached, nil
	}

	balances := make([]*big.Int, p.nCoins())
	for i := range balances {
		balance, err := p.reader.CoinBalance(ctx, p.pool, i, block)
		if err != nil {
			return nil, err
		}
		balances[i] = balance
	}

	p.mux.Lock()
	p.balances[block] = balances
	p.mux.Unlock()
	return balances, nil
}

// blockRates returns one wrapped-to-underlying rate per coin, scaled
// by 1e18. A nil entry means the rate method for that coin is unknown
// and the pool's underlying values cannot be reproduced.
func (p *stableSwapPool) blockRates(ctx context.Context, block uint64) ([]*big.Int, error) {
	p.mux.Lock()
	cached, ok := p.rates[block]
	p.mux.Unlock()
	if ok {
		return cached, nil
	}

	rates := make([]*big.Int, p.nCoins())
	for i := range rates {
		switch {
		case p.coins.Coins[i] == p.coins.UnderlyingCoins[i]:
			rates[i] = decimals.Pow10(18)
		case p.rateMethodID == rateMethodVaultShare:
			rate, err := p.vaults.PricePerFullShare(ctx, p.coins.Coins[i], block)
			if err != nil {
				return nil, err
			}
			rates[i] = rate
		default:
			rates[i] = nil
		}
	}

	p.mux.Lock()
	p.rates[block] = rates
	p.mux.Unlock()
	return rates, nil
}

// xp returns the pool balances normalized to a common 18-decimal,
// rate-adjusted precision, or ok=false when any coin's rate is
// unavailable.
func (p *stableSwapPool) xp(ctx context.Context, block uint64) ([]*big.Int, bool, error) {
	rates, err := p.blockRates(ctx, block)
	if err != nil {
		return nil, false, err
	}
	balances, err := p.blockBalances(ctx, block)
	if err != nil {
		return nil, false, err
	}

	result := make([]*big.Int, p.nCoins())
	for i := range result {
		if rates[i] == nil {
			return nil, false, nil
		}
		// precision_mul lifts underlying units to 18 decimals before
		// the rate is applied.
		stored := new(big.Int).Mul(decimals.Pow10(18-p.coins.UnderlyingDecimals[i]), rates[i])
		stored.Mul(stored, balances[i])
		result[i] = stored.Div(stored, decimals.Pow10(18))
	}
	return result, true, nil
}

// getD solves the pool invariant by Newton iteration. The loop is
// capped at 255 rounds and stops once consecutive iterates differ by
// at most one unit; past the cap the last iterate is returned as a
// best effort, matching the on-chain contract.
func (p *stableSwapPool) getD(xp []*big.Int, amp *big.Int) *big.Int {
	n := int64(len(xp))
	s := new(big.Int)
	for _, x := range xp {
		s.Add(s, x)
	}
	if s.Sign() == 0 {
		return new(big.Int)
	}

	d := new(big.Int).Set(s)
	ann := new(big.Int).Mul(amp, big.NewInt(n))
	one := big.NewInt(1)
	for i := 0; i < 255; i++ {
		dP := new(big.Int).Set(d)
		for _, x := range xp {
			// The +1 guards a zero balance.
			div := new(big.Int).Mul(x, big.NewInt(n))
			div.Add(div, one)
			dP.Mul(dP, d)
			dP.Div(dP, div)
		}
		dPrev := d
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Mul(dP, big.NewInt(n)))
		num.Mul(num, d)
		den := new(big.Int).Sub(ann, one)
		den.Mul(den, d)
		den.Add(den, new(big.Int).Mul(big.NewInt(n+1), dP))
		d = num.Div(num, den)
		if new(big.Int).Sub(d, dPrev).CmpAbs(one) <= 0 {
			break
		}
	}
	return d
}

// getY solves for coin j's balance after coin i's balance moves to x,
// holding the invariant fixed. Same convergence policy as getD.
func (p *stableSwapPool) getY(i, j int, x *big.Int, xp []*big.Int, amp *big.Int) *big.Int {
	n := int64(len(xp))
	d := p.getD(xp, amp)
	ann := new(big.Int).Mul(amp, big.NewInt(n))

	one := big.NewInt(1)
	c := new(big.Int).Set(d)
	sum := new(big.Int)
	for k := 0; k < len(xp); k++ {
		var xk *big.Int
		switch {
		case k == i:
			xk = x
		case k != j:
			xk = xp[k]
		default:
			continue
		}
		sum.Add(sum, xk)
		c.Mul(c, d)
		// The +1 guards a zero balance, as in getD.
		div := new(big.Int).Mul(xk, big.NewInt(n))
		div.Add(div, one)
		c.Div(c, div)
	}
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(ann, big.NewInt(n)))
	b := new(big.Int).Div(d, ann)
	b.Add(b, sum)

	y := new(big.Int).Set(d)
	for k := 0; k < 255; k++ {
		yPrev := y
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Lsh(y, 1)
		den.Add(den, b)
		den.Sub(den, d)
		y = num.Div(num, den)
		if new(big.Int).Sub(y, yPrev).CmpAbs(one) <= 0 {
			break
		}
	}
	return y
}

// getDyUnderlying quotes how much of underlying coin j a swap of dx
// units (18 decimals) of underlying coin i would return, before fees.
// The ok result is false when any coin's rate is unavailable.
func (p *stableSwapPool) getDyUnderlying(ctx context.Context, i, j int, dx *big.Int, block uint64) (*big.Int, bool, error) {
	xp, ok, err := p.xp(ctx, block)
	if err != nil || !ok {
		return nil, false, err
	}
	amp, err := p.reader.AmplificationFactor(ctx, p.pool, block)
	if err != nil {
		return nil, false, err
	}

	x := new(big.Int).Add(xp[i], dx)
	y := p.getY(i, j, x, xp, amp)
	return new(big.Int).Sub(xp[j], y), true, nil
}

// underlyingBalance18 returns the pool's balance of underlying coin i
// expressed in 18 decimals, applying the wrapped coin's rate. The ok
// result is false when the coin's rate is unavailable.
func (p *stableSwapPool) underlyingBalance18(ctx context.Context, i int, block uint64) (*big.Int, bool, error) {
	rates, err := p.blockRates(ctx, block)
	if err != nil {
		return nil, false, err
	}
	if rates[i] == nil {
		return nil, false, nil
	}
	balances, err := p.blockBalances(ctx, block)
	if err != nil {
		return nil, false, err
	}

	rate := decimals.Convert(rates[i], p.coins.UnderlyingDecimals[i], p.coins.Decimals[i])
	balance := new(big.Int).Mul(balances[i], rate)
	return decimals.DivRound(balance, decimals.Pow10(p.coins.Decimals[i])), true, nil
}

func (p *stableSwapPool) underlyingIndex(token common.Address) (int, error) {
	for i, coin := range p.coins.UnderlyingCoins {
		if coin == token {
			return i, nil
		}
	}
	return 0, fmt.Errorf("token %s is not an underlying coin of pool %s", token.Hex(), p.pool.Hex())
}

// CurveSpotFeed quotes the exchange rate between two underlying coins
// of a StableSwap pool by reproducing the pool's swap math off chain.
type CurveSpotFeed struct {
	snapshotFeed

	swap       *stableSwapPool
	base       common.Address
	quote      common.Address
	baseIndex  int
	quoteIndex int
	dx         *big.Int
}

// CurveSpotOptions configure a CurveSpotFeed. BaseAmount is the base
// quantity quoted per update; it defaults to 1 and may need lowering
// for expensive base assets to keep the quote inside pool liquidity.
type CurveSpotOptions struct {
	Pool                  common.Address
	Base                  common.Address
	Quote                 common.Address
	BaseAmount            float64
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewCurveSpotFeed constructs the feed.
func NewCurveSpotFeed(opts CurveSpotOptions, reader source.StableSwapReader, vaults source.VaultReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*CurveSpotFeed, error) {
	if opts.Pool == (common.Address{}) || opts.Base == (common.Address{}) || opts.Quote == (common.Address{}) {
		return nil, fmt.Errorf("curve spot feed requires pool, base and quote addresses")
	}
	baseAmount := opts.BaseAmount
	if baseAmount == 0 {
		baseAmount = 1
	}

	f := &CurveSpotFeed{
		swap:  newStableSwapPool(opts.Pool, reader, vaults),
		base:  opts.Base,
		quote: opts.Quote,
		dx:    decimal.NewFromFloat(baseAmount).Shift(18).BigInt(),
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("CurveSpot-%s", opts.Pool.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "curve_spot_feed").Logger(),
		prepare:               f.resolvePool,
		compute:               f.priceAt,
	}
	return f, nil
}

func (f *CurveSpotFeed) resolvePool(ctx context.Context) error {
	if err := f.swap.prepare(ctx); err != nil {
		return err
	}
	var err error
	if f.baseIndex, err = f.swap.underlyingIndex(f.base); err != nil {
		return err
	}
	if f.quoteIndex, err = f.swap.underlyingIndex(f.quote); err != nil {
		return err
	}
	return nil
}

func (f *CurveSpotFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	dy, ok, err := f.swap.getDyUnderlying(ctx, f.baseIndex, f.quoteIndex, f.dx, block.Number)
	if err != nil || !ok {
		return nil, nil
	}

	// Normalize the quote back to a unit price.
	price := new(big.Int).Mul(dy, decimals.Pow10(18))
	price.Div(price, f.dx)
	return decimals.Convert(price, 18, f.decimals), nil
}

var _ PriceFeed = (*CurveSpotFeed)(nil)
