package expr

import (
	"errors"
	"math/big"
	"reflect"
	"testing"
)

func fp(n int64) *big.Int {
	scale, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

func evalString(t *testing.T, src string, symbols map[string]*big.Int) *big.Int {
	t.Helper()
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("解析 %q 失败: %v", src, err)
	}
	value, err := e.Evaluate(symbols)
	if err != nil {
		t.Fatalf("求值 %q 失败: %v", src, err)
	}
	return value
}

func TestArithmeticPrecedence(t *testing.T) {
	cases := []struct {
		src  string
		want *big.Int
	}{
		{"1 + 2 * 3", fp(7)},
		{"(1 + 2) * 3", fp(9)},
		{"10 - 4 / 2", fp(8)},
		{"-3 + 5", fp(2)},
		{"2 * 3 * 4", fp(24)},
		{"1.5 * 2", fp(3)},
	}
	for _, tc := range cases {
		if got := evalString(t, tc.src, nil); got.Cmp(tc.want) != 0 {
			t.Fatalf("%q: 期望 %s, 实际 %s", tc.src, tc.want, got)
		}
	}
}

func TestSymbolsAndStatements(t *testing.T) {
	symbols := map[string]*big.Int{"bid": fp(9), "ask": fp(11)}
	got := evalString(t, "mid = (bid + ask) / 2;\nmid * 2", symbols)
	if got.Cmp(fp(20)) != 0 {
		t.Fatalf("期望 20, 实际 %s", got)
	}
}

func TestStatementSymbolNotFree(t *testing.T) {
	e, err := Parse("mid = (bid + ask) / 2;\nmid")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	want := []string{"ask", "bid"}
	if got := e.Identifiers(); !reflect.DeepEqual(got, want) {
		t.Fatalf("自由符号应为 %v, 实际 %v", want, got)
	}
}

func TestFunctions(t *testing.T) {
	cases := []struct {
		src  string
		want *big.Int
	}{
		{"median(3, 1, 2)", fp(2)},
		{"median(1, 2, 3, 4)", new(big.Int).Div(fp(5), big.NewInt(2))},
		{"mean(2, 4, 6)", fp(4)},
		{"min(5, 2, 9)", fp(2)},
		{"max(5, 2, 9)", fp(9)},
		{"round(2.4)", fp(2)},
		{"round(2.5)", fp(3)},
	}
	for _, tc := range cases {
		if got := evalString(t, tc.src, nil); got.Cmp(tc.want) != 0 {
			t.Fatalf("%q: 期望 %s, 实际 %s", tc.src, tc.want, got)
		}
	}
}

func TestEscapedIdentifiers(t *testing.T) {
	name := `USD-[bwBTC/ETH SLP]`
	e, err := Parse(`USD\-\[bwBTC\/ETH\ SLP\] * 2`)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if got := e.Identifiers(); len(got) != 1 || got[0] != name {
		t.Fatalf("转义符号解析错误: %v", got)
	}
	value, err := e.Evaluate(map[string]*big.Int{name: fp(3)})
	if err != nil {
		t.Fatalf("求值失败: %v", err)
	}
	if value.Cmp(fp(6)) != 0 {
		t.Fatalf("期望 6, 实际 %s", value)
	}
}

func TestUnresolvedSymbol(t *testing.T) {
	e, err := Parse("A + B")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	_, err = e.Evaluate(map[string]*big.Int{"A": fp(1)})
	var unresolved *UnresolvedSymbolError
	if !errors.As(err, &unresolved) || unresolved.Symbol != "B" {
		t.Fatalf("应报告未解析符号 B, 实际 %v", err)
	}
}

func TestDivisionByZero(t *testing.T) {
	e, err := Parse("1 / 0")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	_, err = e.Evaluate(nil)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("除零应返回 EvaluationError, 实际 %v", err)
	}
}

func TestFixedPointMultiplication(t *testing.T) {
	// 0.5 * 0.5 = 0.25, staying at 18-decimal scale.
	got := evalString(t, "0.5 * 0.5", nil)
	want := new(big.Int).Div(fp(1), big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Fatalf("期望 0.25, 实际 %s", got)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"1 +",
		"(1 + 2",
		"1 2",
		"a = 1",
		"median()",
		"1 $ 2",
	}
	for _, src := range cases {
		if e, err := Parse(src); err == nil {
			if _, evalErr := e.Evaluate(nil); evalErr == nil {
				t.Fatalf("%q 应解析或求值失败", src)
			}
		}
	}
}
