package pricefeed

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/decimals"
	"price-feed-oracle/internal/source"
	"price-feed-oracle/internal/twap"
)

// nativeAsset is the conventional sentinel for the chain's native
// asset in converter reserve listings; it has no decimals() to query.
var nativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// RateTWAPFeed derives a TWAP from a converter's rate-update events
// instead of block snapshots. Update replays the event history over
// the lookback window; historical queries are answered from the
// replayed series, so requests older than the window fail hard.
type RateTWAPFeed struct {
	id               string
	converter        common.Address
	twapLength       int64
	lookback         int64
	invertPrice      bool
	decimals         int32
	minTimeBetween   int64
	bufferPercent    float64
	averageBlockTime float64

	reader source.RateEventReader
	chain  source.BlockReader
	tokens *tokenCache
	clock  Clock
	logger zerolog.Logger

	mux            sync.Mutex
	prepared       bool
	token0, token1 common.Address
	weight0        *big.Int
	weight1        *big.Int
	precision0     int32
	precision1     int32

	blockTimes     map[uint64]int64
	samples        []twap.Sample
	currentTwap    *big.Int
	lastBlockPrice *big.Int
	lastUpdateTime int64
	updated        bool
}

// RateTWAPOptions configure a RateTWAPFeed.
type RateTWAPOptions struct {
	Converter             common.Address
	TWAPLength            int64
	Lookback              int64
	InvertPrice           bool
	PriceFeedDecimals     int32
	MinTimeBetweenUpdates int64
	// AverageBlockTime estimates seconds per block for sizing event
	// queries; defaults to 15.
	AverageBlockTime float64
	// BufferPercent oversizes the estimated window in case
	// AverageBlockTime underestimates; defaults to 1.1.
	BufferPercent float64
}

// NewRateTWAPFeed constructs the feed.
func NewRateTWAPFeed(opts RateTWAPOptions, reader source.RateEventReader, tokens source.TokenReader, chain source.BlockReader, clock Clock, logger zerolog.Logger) (*RateTWAPFeed, error) {
	if opts.Converter == (common.Address{}) {
		return nil, fmt.Errorf("rate twap feed requires a converter address")
	}
	if opts.TWAPLength <= 0 {
		return nil, fmt.Errorf("rate twap feed requires a positive twap length")
	}
	if opts.Lookback < 0 {
		return nil, fmt.Errorf("rate twap feed lookback must be non-negative")
	}
	averageBlockTime := opts.AverageBlockTime
	if averageBlockTime == 0 {
		averageBlockTime = 15
	}
	bufferPercent := opts.BufferPercent
	if bufferPercent == 0 {
		bufferPercent = 1.1
	}

	f := &RateTWAPFeed{
		id:               fmt.Sprintf("RateTWAP-%s", opts.Converter.Hex()),
		converter:        opts.Converter,
		twapLength:       opts.TWAPLength,
		lookback:         opts.Lookback,
		invertPrice:      opts.InvertPrice,
		decimals:         opts.PriceFeedDecimals,
		minTimeBetween:   opts.MinTimeBetweenUpdates,
		bufferPercent:    bufferPercent,
		averageBlockTime: averageBlockTime,
		reader:           reader,
		chain:            chain,
		clock:            clock,
		logger:           logger.With().Str("component", "rate_twap_feed").Logger(),
		blockTimes:       make(map[uint64]int64),
	}
	f.tokens = newTokenCache(tokens, f.logger)
	return f, nil
}

func (f *RateTWAPFeed) GetCurrentPrice() *big.Int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.toFeedDecimals(f.currentTwap)
}

func (f *RateTWAPFeed) GetHistoricalPrice(ctx context.Context, t int64) (*big.Int, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	if !f.updated {
		return nil, &NoDataError{Feed: f.id, Time: t}
	}
	earliest := f.lastUpdateTime - f.lookback
	if t < earliest {
		return nil, &OutOfLookbackError{Feed: f.id, Time: t, Earliest: earliest}
	}

	price := twap.Compute(f.samples, t-f.twapLength, t, nil)
	if price == nil {
		return nil, &NoDataError{Feed: f.id, Time: t}
	}
	return f.toFeedDecimals(price), nil
}

// HistoricalPricePeriods returns the raw replayed price series without
// TWAP smoothing, in feed decimals.
func (f *RateTWAPFeed) HistoricalPricePeriods() []twap.Sample {
	f.mux.Lock()
	defer f.mux.Unlock()

	periods := make([]twap.Sample, len(f.samples))
	for i, s := range f.samples {
		periods[i] = twap.Sample{Timestamp: s.Timestamp, Price: f.toFeedDecimals(s.Price)}
	}
	return periods
}

// LastBlockPrice returns the price implied by the most recent event,
// unsmoothed, in feed decimals.
func (f *RateTWAPFeed) LastBlockPrice() *big.Int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.toFeedDecimals(f.lastBlockPrice)
}

func (f *RateTWAPFeed) GetLastUpdateTime() (int64, bool) {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.lastUpdateTime, f.updated
}

func (f *RateTWAPFeed) GetLookback() int64 { return f.lookback }

func (f *RateTWAPFeed) GetPriceFeedDecimals() int32 { return f.decimals }

// Update replays rate-update events across the lookback window. The
// event query doubles its block span until the earliest event predates
// the window or the chain's genesis is reached. Unlike snapshot feeds,
// query failures here are hard errors: a partially replayed series
// would silently skew every TWAP built from it.
func (f *RateTWAPFeed) Update(ctx context.Context) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	now := f.clock()
	if f.updated && now < f.lastUpdateTime+f.minTimeBetween {
		return nil
	}

	if err := f.ensurePrepared(ctx); err != nil {
		return err
	}

	lookbackWindow := f.twapLength + f.lookback
	earliestLookbackTime := now - lookbackWindow
	latest, err := f.chain.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("%s: latest block: %w", f.id, err)
	}
	lookbackBlocks := uint64(math.Ceil(f.bufferPercent * float64(lookbackWindow) / f.averageBlockTime))
	if lookbackBlocks == 0 {
		lookbackBlocks = 1
	}

	var events []source.RateEvent
	var timestamps []int64
	for i := 0; ; i++ {
		span := lookbackBlocks << uint(i)
		var fromBlock uint64
		if span < lookbackBlocks || span >= latest.Number {
			fromBlock = 0
		} else {
			fromBlock = latest.Number - span
		}
		toBlock := latest.Number
		if len(events) > 0 {
			toBlock = events[0].BlockNumber - 1
		}

		older, err := f.fetchSorted(ctx, fromBlock, toBlock)
		if err != nil {
			return fmt.Errorf("%s: query rate updates: %w", f.id, err)
		}
		olderTimes := make([]int64, len(older))
		for j, ev := range older {
			ts, err := f.blockTime(ctx, ev.BlockNumber)
			if err != nil {
				return fmt.Errorf("%s: block %d timestamp: %w", f.id, ev.BlockNumber, err)
			}
			olderTimes[j] = ts
		}
		events = append(older, events...)
		timestamps = append(olderTimes, timestamps...)

		if fromBlock == 0 || (len(timestamps) > 0 && timestamps[0] <= earliestLookbackTime) {
			break
		}
	}

	if len(events) == 0 {
		f.samples = nil
		f.currentTwap = nil
		f.lastBlockPrice = nil
		f.lastUpdateTime = now
		f.updated = true
		return nil
	}

	samples := make([]twap.Sample, 0, len(events))
	for i, ev := range events {
		price := f.eventPrice(ev)
		if price == nil {
			continue
		}
		samples = append(samples, twap.Sample{Timestamp: timestamps[i], Price: price})
	}

	f.samples = samples
	if len(samples) > 0 {
		f.lastBlockPrice = samples[len(samples)-1].Price
	} else {
		f.lastBlockPrice = nil
	}
	f.currentTwap = twap.Compute(samples, now-f.twapLength, now, nil)
	f.lastUpdateTime = now
	f.updated = true
	return nil
}

func (f *RateTWAPFeed) ensurePrepared(ctx context.Context) error {
	if f.prepared {
		return nil
	}

	token0, token1, err := f.reader.ReserveTokens(ctx, f.converter)
	if err != nil {
		return fmt.Errorf("%s: reserve tokens: %w", f.id, err)
	}
	weight0, err := f.reader.ReserveWeight(ctx, f.converter, token0)
	if err != nil {
		return fmt.Errorf("%s: reserve weight: %w", f.id, err)
	}
	weight1, err := f.reader.ReserveWeight(ctx, f.converter, token1)
	if err != nil {
		return fmt.Errorf("%s: reserve weight: %w", f.id, err)
	}
	// A zero weight makes every event price undefined; surface it as a
	// failed update instead of dividing by it later.
	if weight0 == nil || weight0.Sign() == 0 || weight1 == nil || weight1.Sign() == 0 {
		return fmt.Errorf("%s: converter reports degenerate reserve weights", f.id)
	}

	f.token0, f.token1 = token0, token1
	f.weight0, f.weight1 = weight0, weight1
	f.precision0 = f.reservePrecision(ctx, token0)
	f.precision1 = f.reservePrecision(ctx, token1)
	f.prepared = true
	return nil
}

func (f *RateTWAPFeed) reservePrecision(ctx context.Context, token common.Address) int32 {
	if token == nativeAsset {
		return 18
	}
	return f.tokens.decimals(ctx, token)
}

func (f *RateTWAPFeed) fetchSorted(ctx context.Context, fromBlock, toBlock uint64) ([]source.RateEvent, error) {
	raw, err := f.reader.RateUpdates(ctx, f.converter, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	events := raw[:0:0]
	for _, ev := range raw {
		if ev.Base == f.token0 || ev.Base == f.token1 {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.LogIndex < b.LogIndex
	})
	return events, nil
}

func (f *RateTWAPFeed) blockTime(ctx context.Context, number uint64) (int64, error) {
	if ts, ok := f.blockTimes[number]; ok {
		return ts, nil
	}
	block, err := f.chain.BlockByNumber(ctx, number)
	if err != nil {
		return 0, err
	}
	f.blockTimes[number] = block.Timestamp
	return block.Timestamp, nil
}

// eventPrice converts one rate event into a price denominated in the
// base reserve's precision. Events with a zero side carry no price.
func (f *RateTWAPFeed) eventPrice(ev source.RateEvent) *big.Int {
	reserve0, reserve1 := ev.RateN, ev.RateD
	if ev.Base == f.token0 {
		reserve0, reserve1 = ev.RateD, ev.RateN
	}
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return nil
	}

	if f.invertPrice {
		fixedPoint := decimals.Pow10(f.precision1)
		price := new(big.Int).Mul(reserve0, fixedPoint)
		price.Div(price, f.weight0)
		price.Div(price, reserve1)
		return price.Mul(price, f.weight1)
	}
	fixedPoint := decimals.Pow10(f.precision0)
	price := new(big.Int).Mul(reserve1, fixedPoint)
	price.Div(price, f.weight1)
	price.Div(price, reserve0)
	return price.Mul(price, f.weight0)
}

// toFeedDecimals converts an internal price into feed decimals. The
// internal precision follows the quote reserve: token1 unless the
// price is inverted.
func (f *RateTWAPFeed) toFeedDecimals(price *big.Int) *big.Int {
	if f.invertPrice {
		return decimals.Convert(price, f.precision0, f.decimals)
	}
	return decimals.Convert(price, f.precision1, f.decimals)
}

var _ PriceFeed = (*RateTWAPFeed)(nil)
