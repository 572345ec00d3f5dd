package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), mustBig("1000000000000000000"))
}

func TestExpressionFeedEvaluatesChildren(t *testing.T) {
	children := map[string]PriceFeed{
		"A": &staticFeed{price: e18(4), decimals: 18},
		"B": &staticFeed{price: e18(8), decimals: 18},
	}
	f, err := NewExpressionFeed("test", "A + B * 2", children, 18, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if got := f.GetCurrentPrice(); got.Cmp(e18(20)) != 0 {
		t.Fatalf("期望 20, 实际 %s", got)
	}
}

func TestExpressionFeedNormalizesInputs(t *testing.T) {
	children := map[string]PriceFeed{
		// 3.5 in 6-decimal precision.
		"A": &staticFeed{price: big.NewInt(3_500_000), decimals: 6},
	}
	f, err := NewExpressionFeed("test", "A * 2", children, 6, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if got := f.GetCurrentPrice(); got.Cmp(big.NewInt(7_000_000)) != 0 {
		t.Fatalf("期望 7 (6位精度), 实际 %s", got)
	}
}

func TestExpressionFeedRejectsUnboundSymbol(t *testing.T) {
	children := map[string]PriceFeed{
		"A": &staticFeed{price: e18(1), decimals: 18},
	}
	if _, err := NewExpressionFeed("test", "A + MISSING", children, 18, zerolog.Nop()); err == nil {
		t.Fatal("未绑定的符号应在构造时失败")
	}
}

func TestExpressionFeedNilInput(t *testing.T) {
	children := map[string]PriceFeed{
		"A": &staticFeed{price: e18(4), decimals: 18},
		"B": &staticFeed{price: nil, decimals: 18},
	}
	f, err := NewExpressionFeed("test", "A + B", children, 18, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if got := f.GetCurrentPrice(); got != nil {
		t.Fatalf("任一输入缺数据时应返回 nil, 实际 %s", got)
	}
}

func TestExpressionFeedHistoricalFailsHard(t *testing.T) {
	childErr := errors.New("source down")
	children := map[string]PriceFeed{
		"A": &staticFeed{price: e18(4), decimals: 18},
		"B": &staticFeed{histErr: childErr, decimals: 18},
	}
	f, err := NewExpressionFeed("test", "A + B", children, 18, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if _, err := f.GetHistoricalPrice(context.Background(), 100); !errors.Is(err, childErr) {
		t.Fatalf("子 feed 失败应上抛, 实际 %v", err)
	}
}

func TestExpressionFeedStatements(t *testing.T) {
	children := map[string]PriceFeed{
		"bid": &staticFeed{price: e18(9), decimals: 18},
		"ask": &staticFeed{price: e18(11), decimals: 18},
	}
	f, err := NewExpressionFeed("test", "mid = (bid + ask) / 2;\nmid * 3", children, 18, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if got := f.GetCurrentPrice(); got.Cmp(e18(30)) != 0 {
		t.Fatalf("期望 30, 实际 %s", got)
	}
}

func TestExpressionFeedUpdateTimeIsStalest(t *testing.T) {
	children := map[string]PriceFeed{
		"A": &staticFeed{lastUpdate: 100, updated: true, price: e18(1), decimals: 18},
		"B": &staticFeed{lastUpdate: 300, updated: true, price: e18(1), decimals: 18},
	}
	f, err := NewExpressionFeed("test", "A + B", children, 18, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	if last, ok := f.GetLastUpdateTime(); !ok || last != 100 {
		t.Fatalf("表达式 feed 的新鲜度取决于最旧输入, 实际 %d (%v)", last, ok)
	}

	children["B"].(*staticFeed).updated = false
	if _, ok := f.GetLastUpdateTime(); ok {
		t.Fatal("任一输入未更新时整体应视为未更新")
	}
}
