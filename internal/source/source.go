// Package source defines the data-source collaborators the price-feed
// engine reads from. Feeds consume these narrow interfaces; how the
// numbers are actually fetched (archive node, fixture, fake) is the
// implementation's business.
package source

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block identifies one historical snapshot of the data source.
type Block struct {
	Number    uint64
	Timestamp int64
}

// TokenInfo carries the static facts cached per token address.
type TokenInfo struct {
	Decimals int32
	Symbol   string
}

// BlockReader resolves snapshot identifiers.
type BlockReader interface {
	BlockByNumber(ctx context.Context, number uint64) (Block, error)
	LatestBlock(ctx context.Context) (Block, error)
}

// TokenReader reads static ERC20 facts.
type TokenReader interface {
	TokenInfo(ctx context.Context, token common.Address) (TokenInfo, error)
}

// SupplyReader reads a token's total supply at a block.
type SupplyReader interface {
	TotalSupply(ctx context.Context, token common.Address, block uint64) (*big.Int, error)
}

// WeightedPoolReader reads balances and normalized weights from a
// Balancer-style weighted pool.
type WeightedPoolReader interface {
	PoolBalance(ctx context.Context, pool, token common.Address, block uint64) (*big.Int, error)
	NormalizedWeight(ctx context.Context, pool, token common.Address, block uint64) (*big.Int, error)
}

// PairReader reads reserves from a Uniswap-style two-asset pair.
type PairReader interface {
	PairTokens(ctx context.Context, pair common.Address) (token0, token1 common.Address, err error)
	Reserves(ctx context.Context, pair common.Address, block uint64) (reserve0, reserve1 *big.Int, err error)
}

// LendingReader reads the accrual state of a Compound-style receipt
// token.
type LendingReader interface {
	AccrualBlockNumber(ctx context.Context, market common.Address, block uint64) (uint64, error)
	ExchangeRateStored(ctx context.Context, market common.Address, block uint64) (*big.Int, error)
	SupplyRatePerBlock(ctx context.Context, market common.Address, block uint64) (*big.Int, error)
	LendingUnderlying(ctx context.Context, market common.Address) (common.Address, error)
}

// VaultReader reads a yearn-style vault's share price and underlying
// token. Token and Underlying are distinct lookups because vault
// families disagree on the accessor name.
type VaultReader interface {
	PricePerFullShare(ctx context.Context, vault common.Address, block uint64) (*big.Int, error)
	VaultToken(ctx context.Context, vault common.Address) (common.Address, error)
	VaultUnderlying(ctx context.Context, vault common.Address) (common.Address, error)
}

// PoolCoins describes a stable-swap pool's coin layout.
type PoolCoins struct {
	Coins              []common.Address
	UnderlyingCoins    []common.Address
	Decimals           []int32
	UnderlyingDecimals []int32
}

// StableSwapReader reads the facts needed to reproduce a Curve-style
// pool's invariant math off-chain.
type StableSwapReader interface {
	PoolCoins(ctx context.Context, pool common.Address) (PoolCoins, error)
	PoolFromLPToken(ctx context.Context, lp common.Address) (common.Address, error)
	CoinBalance(ctx context.Context, pool common.Address, index int, block uint64) (*big.Int, error)
	AmplificationFactor(ctx context.Context, pool common.Address, block uint64) (*big.Int, error)
	// RateMethodID identifies how wrapped coins convert to underlying;
	// empty when the pool was never registered.
	RateMethodID(ctx context.Context, pool common.Address) (string, error)
}

// RateEvent is one decoded rate-update log. Base is the token the
// event's numerator is denominated against; ordering fields reproduce
// on-chain emission order.
type RateEvent struct {
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
	Base        common.Address
	RateN       *big.Int
	RateD       *big.Int
}

// RateEventReader reads reserve configuration and rate-update logs
// from a Bancor-style converter.
type RateEventReader interface {
	ReserveTokens(ctx context.Context, converter common.Address) (token0, token1 common.Address, err error)
	ReserveWeight(ctx context.Context, converter, token common.Address) (*big.Int, error)
	// RateUpdates returns events in [fromBlock, toBlock], unsorted.
	RateUpdates(ctx context.Context, converter common.Address, fromBlock, toBlock uint64) ([]RateEvent, error)
}
