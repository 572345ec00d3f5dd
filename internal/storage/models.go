package storage

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot represents one persisted feed observation.
type PriceSnapshot struct {
	Identifier string
	Bucket     time.Time
	Price      decimal.Decimal
	Decimals   int32
	Status     string
	Error      *string
	CreatedAt  time.Time
}

// SnapshotPrice converts a fixed-point price into its decimal
// representation for persistence.
func SnapshotPrice(price *big.Int, decimals int32) decimal.Decimal {
	if price == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(price, -decimals)
}
