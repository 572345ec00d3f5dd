package blockfinder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"price-feed-oracle/internal/source"
)

// Cache stores resolved blocks keyed by timestamp and by number.
// Values are deterministic for a given key, so duplicate in-flight
// computations racing on a key are harmless; last write wins.
type Cache interface {
	GetByTime(ctx context.Context, t int64) (source.Block, bool)
	SetByTime(ctx context.Context, t int64, b source.Block)
	GetByNumber(ctx context.Context, number uint64) (source.Block, bool)
	SetByNumber(ctx context.Context, number uint64, b source.Block)
}

type memoryCache struct {
	mux      sync.RWMutex
	byTime   map[int64]source.Block
	byNumber map[uint64]source.Block
}

// NewMemoryCache returns a process-local cache. Entries are never
// evicted; the working set is bounded by the distinct lookups a
// process performs.
func NewMemoryCache() Cache {
	return &memoryCache{
		byTime:   make(map[int64]source.Block),
		byNumber: make(map[uint64]source.Block),
	}
}

func (c *memoryCache) GetByTime(_ context.Context, t int64) (source.Block, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	b, ok := c.byTime[t]
	return b, ok
}

func (c *memoryCache) SetByTime(_ context.Context, t int64, b source.Block) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.byTime[t] = b
}

func (c *memoryCache) GetByNumber(_ context.Context, number uint64) (source.Block, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	b, ok := c.byNumber[number]
	return b, ok
}

func (c *memoryCache) SetByNumber(_ context.Context, number uint64, b source.Block) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.byNumber[number] = b
}

type redisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache returns a cache backed by Redis so multiple processes
// share one set of resolved blocks. Failures degrade to cache misses.
func NewRedisCache(client *redis.Client, prefix string) Cache {
	if prefix == "" {
		prefix = "blockfinder"
	}
	return &redisCache{client: client, prefix: prefix}
}

func encodeBlock(b source.Block) string {
	return fmt.Sprintf("%d:%d", b.Number, b.Timestamp)
}

func decodeBlock(v string) (source.Block, bool) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return source.Block{}, false
	}
	number, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return source.Block{}, false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return source.Block{}, false
	}
	return source.Block{Number: number, Timestamp: ts}, true
}

func (c *redisCache) get(ctx context.Context, key string) (source.Block, bool) {
	v, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return source.Block{}, false
	}
	return decodeBlock(v)
}

func (c *redisCache) GetByTime(ctx context.Context, t int64) (source.Block, bool) {
	return c.get(ctx, fmt.Sprintf("%s:time:%d", c.prefix, t))
}

func (c *redisCache) SetByTime(ctx context.Context, t int64, b source.Block) {
	c.client.Set(ctx, fmt.Sprintf("%s:time:%d", c.prefix, t), encodeBlock(b), 0)
}

func (c *redisCache) GetByNumber(ctx context.Context, number uint64) (source.Block, bool) {
	return c.get(ctx, fmt.Sprintf("%s:num:%d", c.prefix, number))
}

func (c *redisCache) SetByNumber(ctx context.Context, number uint64, b source.Block) {
	c.client.Set(ctx, fmt.Sprintf("%s:num:%d", c.prefix, number), encodeBlock(b), 0)
}
