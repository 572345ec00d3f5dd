package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/decimals"
	"price-feed-oracle/internal/expr"
)

// ExpressionFeed prices an arbitrary arithmetic combination of child
// feeds. The expression is compiled at construction and every free
// symbol must resolve to a child feed then, so a typo in a feed name
// fails fast instead of at pricing time. Child prices enter the
// expression normalized to 18 decimals.
type ExpressionFeed struct {
	id         string
	expression *expr.Expression
	children   map[string]PriceFeed
	decimals   int32
	logger     zerolog.Logger
}

// NewExpressionFeed compiles source and binds its symbols to children.
func NewExpressionFeed(id, source string, children map[string]PriceFeed, priceFeedDecimals int32, logger zerolog.Logger) (*ExpressionFeed, error) {
	expression, err := expr.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("expression feed %s: %w", id, err)
	}
	for _, symbol := range expression.Identifiers() {
		if _, ok := children[symbol]; !ok {
			return nil, fmt.Errorf("expression feed %s: %w", id, &expr.UnresolvedSymbolError{Symbol: symbol})
		}
	}
	return &ExpressionFeed{
		id:         id,
		expression: expression,
		children:   children,
		decimals:   priceFeedDecimals,
		logger:     logger.With().Str("component", "expression_feed").Str("feed", id).Logger(),
	}, nil
}

func (f *ExpressionFeed) GetCurrentPrice() *big.Int {
	symbols := make(map[string]*big.Int, len(f.children))
	for name, child := range f.children {
		price := child.GetCurrentPrice()
		if price == nil {
			return nil
		}
		symbols[name] = decimals.Convert(price, child.GetPriceFeedDecimals(), 18)
	}

	result, err := f.expression.Evaluate(symbols)
	if err != nil {
		f.logger.Warn().Err(err).Msg("expression evaluation failed")
		return nil
	}
	return decimals.Convert(result, 18, f.decimals)
}

// GetHistoricalPrice fails when any child fails: unlike a median, an
// expression has no meaningful value with an input missing.
func (f *ExpressionFeed) GetHistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	symbols := make(map[string]*big.Int, len(f.children))
	for name, child := range f.children {
		price, err := child.GetHistoricalPrice(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%s: input %s: %w", f.id, name, err)
		}
		symbols[name] = decimals.Convert(price, child.GetPriceFeedDecimals(), 18)
	}

	result, err := f.expression.Evaluate(symbols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.id, err)
	}
	return decimals.Convert(result, 18, f.decimals), nil
}

// GetLastUpdateTime reports the stalest child; the expression is only
// as fresh as its least fresh input.
func (f *ExpressionFeed) GetLastUpdateTime() (int64, bool) {
	var oldest int64
	var any bool
	for _, child := range f.children {
		t, ok := child.GetLastUpdateTime()
		if !ok {
			return 0, false
		}
		if !any || t < oldest {
			oldest = t
		}
		any = true
	}
	return oldest, any
}

func (f *ExpressionFeed) GetLookback() int64 {
	first := true
	var lookback int64
	for _, child := range f.children {
		if l := child.GetLookback(); first || l < lookback {
			lookback = l
			first = false
		}
	}
	return lookback
}

func (f *ExpressionFeed) GetPriceFeedDecimals() int32 { return f.decimals }

func (f *ExpressionFeed) Update(ctx context.Context) error {
	var wg sync.WaitGroup
	for name, child := range f.children {
		wg.Add(1)
		go func(name string, child PriceFeed) {
			defer wg.Done()
			if err := child.Update(ctx); err != nil {
				f.logger.Warn().Err(err).Str("input", name).Msg("child feed update failed")
			}
		}(name, child)
	}
	wg.Wait()
	return nil
}

var _ PriceFeed = (*ExpressionFeed)(nil)
