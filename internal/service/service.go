package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/config"
	"price-feed-oracle/internal/pricefeed"
	"price-feed-oracle/internal/scheduler"
	"price-feed-oracle/internal/storage"
)

// Service orchestrates feed updates and snapshot persistence.
type Service struct {
	scheduler *scheduler.Scheduler
	feeds     map[string]pricefeed.PriceFeed
	store     storage.SnapshotStore
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the oracle service.
func New(cfg *config.Config, sched *scheduler.Scheduler, feeds map[string]pricefeed.PriceFeed, store storage.SnapshotStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		feeds:     feeds,
		store:     store,
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned update loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(s.feeds) == 0 {
		return fmt.Errorf("no feeds configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的喂价更新逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	type result struct {
		name string
		err  error
	}

	results := make([]result, len(s.feeds))
	names := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = result{name: name, err: s.feeds[name].Update(ctx)}
		}(i, name)
	}
	wg.Wait()

	updated := 0
	failed := 0
	for _, res := range results {
		feed := s.feeds[res.name]
		snapshot := storage.PriceSnapshot{
			Identifier: res.name,
			Bucket:     bucket,
			Decimals:   feed.GetPriceFeedDecimals(),
			Status:     "complete",
			CreatedAt:  time.Now().UTC(),
		}

		switch {
		case res.err != nil:
			failed++
			msg := res.err.Error()
			snapshot.Status = "errored"
			snapshot.Error = &msg
			s.logger.Error().Err(res.err).Str("feed", res.name).Time("bucket", bucket).Msg("feed update failed")
		default:
			price := feed.GetCurrentPrice()
			if price == nil {
				snapshot.Status = "no_data"
			} else {
				snapshot.Price = storage.SnapshotPrice(price, feed.GetPriceFeedDecimals())
				updated++
			}
		}

		if s.store != nil {
			if err := s.store.UpsertSnapshot(ctx, snapshot); err != nil {
				s.logger.Error().Err(err).Str("feed", res.name).Time("bucket", bucket).Msg("failed to upsert snapshot")
			}
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Int("feeds", len(names)).
		Int("updated", updated).
		Int("failed", failed).
		Msg("bucket recorded")

	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
