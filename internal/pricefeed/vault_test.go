package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type fakeVault struct {
	sharePrice      *big.Int
	shareErr        error
	underlying      common.Address
	tokenCalls      int
	underlyingCalls int
}

func (v *fakeVault) PricePerFullShare(_ context.Context, _ common.Address, _ uint64) (*big.Int, error) {
	if v.shareErr != nil {
		return nil, v.shareErr
	}
	return v.sharePrice, nil
}

func (v *fakeVault) VaultToken(_ context.Context, _ common.Address) (common.Address, error) {
	v.tokenCalls++
	return v.underlying, nil
}

func (v *fakeVault) VaultUnderlying(_ context.Context, _ common.Address) (common.Address, error) {
	v.underlyingCalls++
	return v.underlying, nil
}

func newVaultFixture(t *testing.T, vault *fakeVault, resolver UnderlyingResolver, tokens *fakeTokens) (*VaultFeed, *manualClock) {
	t.Helper()
	chain := &fakeChain{head: 1000}
	clk := &manualClock{now: 15010}
	feed, err := NewVaultFeed(VaultOptions{
		Vault:                 addr(3),
		PriceFeedDecimals:     18,
		MinTimeBetweenUpdates: 60,
	}, resolver, vault, tokens, chain, newTestFinder(chain), clk.clock(), zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 vault feed 失败: %v", err)
	}
	return feed, clk
}

func TestVaultFeedSharePrice(t *testing.T) {
	vault := &fakeVault{
		sharePrice: mustBig("1050000000000000000"),
		underlying: addr(4),
	}
	tokens := &fakeTokens{decimals: map[common.Address]int32{addr(4): 18}}
	feed, _ := newVaultFixture(t, vault, YearnUnderlying, tokens)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	price := feed.GetCurrentPrice()
	if price == nil || price.String() != "1050000000000000000" {
		t.Fatalf("期望份额价格 1.05e18, 实际 %v", price)
	}
	if vault.tokenCalls != 1 || vault.underlyingCalls != 0 {
		t.Fatal("yearn 策略应只走 token() 查询")
	}
}

func TestVaultFeedHarvestResolver(t *testing.T) {
	vault := &fakeVault{
		sharePrice: mustBig("2000000"),
		underlying: addr(4),
	}
	tokens := &fakeTokens{decimals: map[common.Address]int32{addr(4): 6}}
	feed, _ := newVaultFixture(t, vault, HarvestUnderlying, tokens)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	// 2.0 at 6 underlying decimals rescaled to 18 feed decimals.
	price := feed.GetCurrentPrice()
	if price == nil || price.String() != "2000000000000000000" {
		t.Fatalf("期望 2e18, 实际 %v", price)
	}
	if vault.underlyingCalls != 1 || vault.tokenCalls != 0 {
		t.Fatal("harvest 策略应只走 underlying() 查询")
	}
}

func TestVaultFeedDisabledStrategyReadsZero(t *testing.T) {
	vault := &fakeVault{
		shareErr:   errors.New("execution reverted"),
		underlying: addr(4),
	}
	tokens := &fakeTokens{decimals: map[common.Address]int32{addr(4): 18}}
	feed, _ := newVaultFixture(t, vault, YearnUnderlying, tokens)

	if err := feed.Update(context.Background()); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	price := feed.GetCurrentPrice()
	if price == nil || price.Sign() != 0 {
		t.Fatalf("份额价格读取失败应返回显式 0, 实际 %v", price)
	}
}

func TestVaultFeedRequiresAddressAndResolver(t *testing.T) {
	chain := &fakeChain{head: 10}
	if _, err := NewVaultFeed(VaultOptions{}, YearnUnderlying, &fakeVault{}, &fakeTokens{}, chain, newTestFinder(chain), SystemClock, zerolog.Nop()); err == nil {
		t.Fatal("缺少 vault 地址应报错")
	}
	if _, err := NewVaultFeed(VaultOptions{Vault: addr(3)}, nil, &fakeVault{}, &fakeTokens{}, chain, newTestFinder(chain), SystemClock, zerolog.Nop()); err == nil {
		t.Fatal("缺少 resolver 应报错")
	}
}
