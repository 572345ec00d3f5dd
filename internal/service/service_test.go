package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/config"
	"price-feed-oracle/internal/pricefeed"
	"price-feed-oracle/internal/storage"
)

type stubFeed struct {
	price     *big.Int
	decimals  int32
	updateErr error
	updates   int
}

func (s *stubFeed) GetCurrentPrice() *big.Int { return s.price }

func (s *stubFeed) GetHistoricalPrice(_ context.Context, _ int64) (*big.Int, error) {
	return s.price, nil
}

func (s *stubFeed) GetLastUpdateTime() (int64, bool) { return 0, s.updates > 0 }

func (s *stubFeed) GetLookback() int64 { return 0 }

func (s *stubFeed) GetPriceFeedDecimals() int32 { return s.decimals }

func (s *stubFeed) Update(_ context.Context) error {
	s.updates++
	return s.updateErr
}

type memStore struct {
	snapshots []storage.PriceSnapshot
}

func (m *memStore) UpsertSnapshot(_ context.Context, snapshot storage.PriceSnapshot) error {
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

func (m *memStore) ListSnapshotsBetween(_ context.Context, _ string, _, _ time.Time) ([]storage.PriceSnapshot, error) {
	return nil, nil
}

func (m *memStore) ListRecentSnapshots(_ context.Context, _ string, _ int) ([]storage.PriceSnapshot, error) {
	return nil, nil
}

func (m *memStore) MarkSnapshotErrored(_ context.Context, _ string, _ time.Time, _ string) error {
	return nil
}

func (m *memStore) CountSnapshots(_ context.Context) (int64, error) {
	return int64(len(m.snapshots)), nil
}

func (m *memStore) byIdentifier(identifier string) (storage.PriceSnapshot, bool) {
	for _, s := range m.snapshots {
		if s.Identifier == identifier {
			return s, true
		}
	}
	return storage.PriceSnapshot{}, false
}

func e18(n int64) *big.Int {
	scale, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

func TestProcessBucketPersistsSnapshots(t *testing.T) {
	healthy := &stubFeed{price: e18(2), decimals: 18}
	empty := &stubFeed{price: nil, decimals: 18}
	broken := &stubFeed{updateErr: errors.New("rpc down"), decimals: 18}

	store := &memStore{}
	feeds := map[string]pricefeed.PriceFeed{
		"WBTC-ETH": healthy,
		"CRV-ETH":  empty,
		"cDAI-DAI": broken,
	}

	svc := New(&config.Config{}, nil, feeds, store, zerolog.Nop())
	bucket := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket 失败: %v", err)
	}

	if healthy.updates != 1 || empty.updates != 1 || broken.updates != 1 {
		t.Fatal("所有 feed 都应被更新")
	}
	if len(store.snapshots) != 3 {
		t.Fatalf("期望 3 条快照, 实际 %d", len(store.snapshots))
	}

	snap, ok := store.byIdentifier("WBTC-ETH")
	if !ok || snap.Status != "complete" {
		t.Fatalf("健康 feed 应记录 complete, 实际 %+v", snap)
	}
	if snap.Price.String() != "2" {
		t.Fatalf("期望价格 2, 实际 %s", snap.Price)
	}
	if snap.Bucket != bucket {
		t.Fatalf("快照应落在调度桶上, 实际 %s", snap.Bucket)
	}

	snap, _ = store.byIdentifier("CRV-ETH")
	if snap.Status != "no_data" {
		t.Fatalf("无数据 feed 应记录 no_data, 实际 %s", snap.Status)
	}

	snap, _ = store.byIdentifier("cDAI-DAI")
	if snap.Status != "errored" || snap.Error == nil {
		t.Fatalf("失败 feed 应记录 errored, 实际 %+v", snap)
	}
}

func TestProcessBucketWithoutStore(t *testing.T) {
	feeds := map[string]pricefeed.PriceFeed{
		"WBTC-ETH": &stubFeed{price: e18(1), decimals: 18},
	}
	svc := New(&config.Config{}, nil, feeds, nil, zerolog.Nop())

	if err := svc.ProcessBucket(context.Background(), time.Now()); err != nil {
		t.Fatalf("无持久化时也应正常采样: %v", err)
	}
}

func TestRunRequiresSchedulerAndFeeds(t *testing.T) {
	svc := New(&config.Config{}, nil, map[string]pricefeed.PriceFeed{"x": &stubFeed{}}, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("缺少调度器应报错")
	}
}
