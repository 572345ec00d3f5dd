package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/decimals"
)

// Medianizer aggregates child feeds by median (or mean) of their
// reported prices. Children keep their own precision; prices are
// normalized to the medianizer's decimals before aggregation.
type Medianizer struct {
	id          string
	children    []PriceFeed
	computeMean bool
	decimals    int32
	logger      zerolog.Logger
}

// NewMedianizer constructs a medianizer over children. With
// computeMean the aggregate is the arithmetic mean instead of the
// median.
func NewMedianizer(id string, children []PriceFeed, computeMean bool, priceFeedDecimals int32, logger zerolog.Logger) (*Medianizer, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("medianizer %s requires at least one child feed", id)
	}
	return &Medianizer{
		id:          id,
		children:    children,
		computeMean: computeMean,
		decimals:    priceFeedDecimals,
		logger:      logger.With().Str("component", "medianizer").Str("feed", id).Logger(),
	}, nil
}

func (m *Medianizer) GetCurrentPrice() *big.Int {
	var prices []*big.Int
	for _, child := range m.children {
		price := child.GetCurrentPrice()
		if price == nil {
			continue
		}
		prices = append(prices, decimals.Convert(price, child.GetPriceFeedDecimals(), m.decimals))
	}
	if len(prices) == 0 {
		return nil
	}
	return m.aggregate(prices)
}

// GetHistoricalPrice tolerates partial child failure: a failing child
// is excluded and the rest still aggregate. Only when every child
// fails does the medianizer itself fail.
func (m *Medianizer) GetHistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	var prices []*big.Int
	for _, child := range m.children {
		price, err := child.GetHistoricalPrice(ctx, t)
		if err != nil || price == nil {
			continue
		}
		prices = append(prices, decimals.Convert(price, child.GetPriceFeedDecimals(), m.decimals))
	}
	if len(prices) == 0 {
		return nil, &NoDataError{Feed: m.id, Time: t}
	}
	return m.aggregate(prices), nil
}

// GetLastUpdateTime reports the most recent child update.
func (m *Medianizer) GetLastUpdateTime() (int64, bool) {
	var latest int64
	var any bool
	for _, child := range m.children {
		if t, ok := child.GetLastUpdateTime(); ok {
			if !any || t > latest {
				latest = t
			}
			any = true
		}
	}
	return latest, any
}

// GetLookback reports the tightest child window; beyond it at least
// one child could not contribute.
func (m *Medianizer) GetLookback() int64 {
	lookback := m.children[0].GetLookback()
	for _, child := range m.children[1:] {
		if l := child.GetLookback(); l < lookback {
			lookback = l
		}
	}
	return lookback
}

func (m *Medianizer) GetPriceFeedDecimals() int32 { return m.decimals }

// Update refreshes all children concurrently. A failing child is
// logged and skipped; it simply reports no price until it recovers.
func (m *Medianizer) Update(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, child := range m.children {
		wg.Add(1)
		go func(child PriceFeed) {
			defer wg.Done()
			if err := child.Update(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("child feed update failed")
			}
		}(child)
	}
	wg.Wait()
	return nil
}

func (m *Medianizer) aggregate(prices []*big.Int) *big.Int {
	if m.computeMean {
		sum := new(big.Int)
		for _, price := range prices {
			sum.Add(sum, price)
		}
		return decimals.DivRound(sum, big.NewInt(int64(len(prices))))
	}

	sorted := make([]*big.Int, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return decimals.DivRound(sum, big.NewInt(2))
}

var _ PriceFeed = (*Medianizer)(nil)
