// Package pricefeed implements the price-feed composition engine: a
// polymorphic feed contract, primitive feeds deriving prices from
// on-chain data sources, and composite feeds combining children
// recursively.
package pricefeed

import (
	"context"
	"math"
	"math/big"
	"time"
)

// UnlimitedLookback marks feeds that can reconstruct arbitrary history
// from an immutable data source.
const UnlimitedLookback = int64(math.MaxInt64)

// Clock returns the current time in unix seconds. Injected so tests
// and replay tooling control feed time.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 { return time.Now().Unix() }

// PriceFeed is the capability set every feed variant implements.
// Prices are fixed-point big.Int values scaled by the feed's decimals;
// a nil price means "no data", never zero.
type PriceFeed interface {
	// GetCurrentPrice returns the last value computed by Update. It
	// performs no I/O and returns nil if the feed never updated or the
	// most recent computation failed.
	GetCurrentPrice() *big.Int

	// GetHistoricalPrice derives the price at time t, performing data
	// source reads as needed. Fails with *OutOfLookbackError when t
	// precedes the retained window and *NoDataError when no valid
	// sample exists for an in-window time.
	GetHistoricalPrice(ctx context.Context, t int64) (*big.Int, error)

	// GetLastUpdateTime reports when Update last completed; ok is
	// false before the first update.
	GetLastUpdateTime() (int64, bool)

	// GetLookback is the maximum age, relative to the last update, the
	// feed guarantees it can answer historical queries for.
	GetLookback() int64

	GetPriceFeedDecimals() int32

	// Update fetches fresh data and recomputes the current price. It
	// is throttled by the feed's minTimeBetweenUpdates and serialized
	// per instance. Routine upstream unavailability surfaces as a nil
	// current price, not an error.
	Update(ctx context.Context) error
}
