package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/blockfinder"
	"price-feed-oracle/internal/config"
	"price-feed-oracle/internal/pricefeed"
	"price-feed-oracle/internal/scheduler"
	"price-feed-oracle/internal/service"
	"price-feed-oracle/internal/source"
	"price-feed-oracle/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	registry *pricefeed.Registry
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:   cfg,
		Logger:   logger.With().Str("component", "app").Logger(),
		registry: pricefeed.DefaultRegistry(),
	}
}

func (a *App) newDeps() pricefeed.Deps {
	src := source.NewEthSource(source.EthOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	var cache blockfinder.Cache
	if a.Config.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		cache = blockfinder.NewRedisCache(client, a.Config.Redis.KeyPrefix)
	} else {
		cache = blockfinder.NewMemoryCache()
	}

	finder := blockfinder.New(src, cache, a.Logger)

	return pricefeed.Deps{
		Chain:            src,
		Tokens:           src,
		Supply:           src,
		Pools:            src,
		Pairs:            src,
		Lending:          src,
		Vaults:           src,
		Swaps:            src,
		Rates:            src,
		Finder:           finder,
		Logger:           a.Logger,
		AverageBlockTime: a.Config.Ethereum.AverageBlockTime,
	}
}

// feedNames resolves the identifiers the service should materialise:
// the configured subset, or every registry entry when unset.
func (a *App) feedNames() []string {
	if len(a.Config.Oracle.Feeds) > 0 {
		return a.Config.Oracle.Feeds
	}
	return a.registry.Names()
}

func (a *App) buildFeeds(names []string, deps pricefeed.Deps) (map[string]pricefeed.PriceFeed, error) {
	feeds := make(map[string]pricefeed.PriceFeed, len(names))
	for _, name := range names {
		cfg, ok := a.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown feed identifier %q", name)
		}
		feed, err := pricefeed.NewFeed(name, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build feed %s: %w", name, err)
		}
		feeds[name] = feed
	}
	return feeds, nil
}

func (a *App) buildFeed(name string) (pricefeed.PriceFeed, error) {
	feeds, err := a.buildFeeds([]string{name}, a.newDeps())
	if err != nil {
		return nil, err
	}
	return feeds[name], nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running oracle service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	names := a.feedNames()
	feeds, err := a.buildFeeds(names, a.newDeps())
	if err != nil {
		return err
	}

	var snapshotStore storage.SnapshotStore
	if store != nil {
		snapshotStore = store
	}

	svc := service.New(a.Config, sched, feeds, snapshotStore, a.Logger)

	a.Logger.Info().Int("feeds", len(feeds)).Msg("starting oracle service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("oracle service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	Feed      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// Raw exports the feed's replayed event series instead of the
	// persisted snapshots. Only event-sourced feeds expose one.
	Raw bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Feed  string
	Limit int
}

// PriceOptions configure the one-shot price command.
type PriceOptions struct {
	Feed string
	At   *time.Time
}

// BackfillOptions configure the historical backfill job.
type BackfillOptions struct {
	Feed   string
	From   time.Time
	To     time.Time
	DryRun bool
}
