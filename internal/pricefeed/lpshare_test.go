package pricefeed

import (
	"math/big"
	"testing"
)

func TestShareRedemption(t *testing.T) {
	// 2,000,000 tokens across 1,000,000 LP shares = 2 per share.
	got := shareRedemption(e18(2_000_000), e18(1_000_000))
	if got.Cmp(e18(2)) != 0 {
		t.Fatalf("期望每份 2, 实际 %s", got)
	}
}

func TestShareRedemptionRounds(t *testing.T) {
	// 1 token over 3 shares rounds half-up at the 18th decimal.
	got := shareRedemption(e18(1), e18(3))
	want := mustBig("333333333333333333")
	if got.Cmp(want) != 0 {
		t.Fatalf("期望 %s, 实际 %s", want, got)
	}
}

func TestShareRedemptionZeroSupply(t *testing.T) {
	got := shareRedemption(e18(5), big.NewInt(0))
	if got == nil || got.Sign() != 0 {
		t.Fatalf("零供应量应得到明确的 0 价格, 实际 %v", got)
	}
}

func TestShareRedemptionNilInputs(t *testing.T) {
	if shareRedemption(nil, e18(1)) != nil {
		t.Fatal("池余额缺数据时应返回 nil")
	}
	if shareRedemption(e18(1), nil) != nil {
		t.Fatal("供应量缺数据时应返回 nil")
	}
}
