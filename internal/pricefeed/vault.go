package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/decimals"
	"price-feed-oracle/internal/source"
)

// UnderlyingResolver looks up the underlying token of a vault. Vault
// families disagree on the accessor name, so the lookup is an injected
// strategy instead of a subclass per family.
type UnderlyingResolver func(ctx context.Context, reader source.VaultReader, vault common.Address) (common.Address, error)

// YearnUnderlying resolves via the vault's token() accessor.
func YearnUnderlying(ctx context.Context, reader source.VaultReader, vault common.Address) (common.Address, error) {
	return reader.VaultToken(ctx, vault)
}

// HarvestUnderlying resolves via the vault's underlying() accessor.
func HarvestUnderlying(ctx context.Context, reader source.VaultReader, vault common.Address) (common.Address, error) {
	return reader.VaultUnderlying(ctx, vault)
}

// VaultFeed tracks the share price of a yearn-style vault. A disabled
// strategy makes the share-price read revert; that reads as an
// explicit zero price, not missing data.
type VaultFeed struct {
	snapshotFeed

	vault    common.Address
	resolver UnderlyingResolver
	reader   source.VaultReader
	tokens   *tokenCache

	underlyingDecimals int32
}

// VaultOptions configure a VaultFeed.
type VaultOptions struct {
	Vault                 common.Address
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
}

// NewVaultFeed constructs the feed with the given underlying-token
// resolution strategy.
func NewVaultFeed(opts VaultOptions, resolver UnderlyingResolver, reader source.VaultReader, tokens source.TokenReader, chain source.BlockReader, finder *blockfinder.Finder, clock Clock, logger zerolog.Logger) (*VaultFeed, error) {
	if opts.Vault == (common.Address{}) {
		return nil, fmt.Errorf("vault feed requires a vault address")
	}
	if resolver == nil {
		return nil, fmt.Errorf("vault feed requires an underlying resolver")
	}

	f := &VaultFeed{
		vault:    opts.Vault,
		resolver: resolver,
		reader:   reader,
	}
	f.snapshotFeed = snapshotFeed{
		id:                    fmt.Sprintf("Vault-%s", opts.Vault.Hex()),
		decimals:              opts.PriceFeedDecimals,
		minTimeBetweenUpdates: opts.MinTimeBetweenUpdates,
		clock:                 clock,
		chain:                 chain,
		finder:                finder,
		logger:                logger.With().Str("component", "vault_feed").Logger(),
		prepare:               f.resolveUnderlying,
		compute:               f.priceAt,
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *VaultFeed) resolveUnderlying(ctx context.Context) error {
	underlying, err := f.resolver(ctx, f.reader, f.vault)
	if err != nil {
		return fmt.Errorf("resolve vault underlying: %w", err)
	}
	f.underlyingDecimals = f.tokens.decimals(ctx, underlying)
	return nil
}

func (f *VaultFeed) priceAt(ctx context.Context, block source.Block) (*big.Int, error) {
	raw, err := f.reader.PricePerFullShare(ctx, f.vault, block.Number)
	if err != nil {
		return big.NewInt(0), nil
	}
	return decimals.Convert(raw, f.underlyingDecimals, f.decimals), nil
}

var _ PriceFeed = (*VaultFeed)(nil)
