package pricefeed

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/source"
)

// tokenCache memoizes static per-address token facts. Entries are
// append-only for the feed's lifetime; a token's decimals and symbol
// do not change. Failed reads degrade to 18 decimals and an empty
// symbol, and the degraded entry is cached like any other.
type tokenCache struct {
	reader source.TokenReader
	logger zerolog.Logger

	mux     sync.Mutex
	details map[common.Address]source.TokenInfo
}

func newTokenCache(reader source.TokenReader, logger zerolog.Logger) *tokenCache {
	return &tokenCache{
		reader:  reader,
		logger:  logger,
		details: make(map[common.Address]source.TokenInfo),
	}
}

func (c *tokenCache) get(ctx context.Context, token common.Address) source.TokenInfo {
	c.mux.Lock()
	defer c.mux.Unlock()

	if info, ok := c.details[token]; ok {
		return info
	}

	info, err := c.reader.TokenInfo(ctx, token)
	if err != nil {
		c.logger.Warn().Err(err).Str("token", token.Hex()).Msg("token facts unavailable, defaulting to 18 decimals")
		info = source.TokenInfo{Decimals: 18}
	}
	c.details[token] = info
	return info
}

func (c *tokenCache) decimals(ctx context.Context, token common.Address) int32 {
	return c.get(ctx, token).Decimals
}
