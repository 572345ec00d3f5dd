package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO price_snapshots (
        identifier,
        bucket_ts,
        price,
        decimals,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (identifier, bucket_ts) DO UPDATE
    SET
        price    = EXCLUDED.price,
        decimals = EXCLUDED.decimals,
        status   = EXCLUDED.status,
        error    = EXCLUDED.error;`

	listSnapshotsBetweenSQL = `SELECT
        identifier,
        bucket_ts,
        price,
        decimals,
        status,
        error,
        created_at
    FROM price_snapshots
    WHERE identifier = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSnapshotsSQL = `SELECT
        identifier,
        bucket_ts,
        price,
        decimals,
        status,
        error,
        created_at
    FROM price_snapshots
    ORDER BY bucket_ts DESC, identifier
    LIMIT $1;`

	listRecentForFeedSQL = `SELECT
        identifier,
        bucket_ts,
        price,
        decimals,
        status,
        error,
        created_at
    FROM price_snapshots
    WHERE identifier = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	markSnapshotErroredSQL = `UPDATE price_snapshots
    SET status = 'errored', error = $3
    WHERE identifier = $1 AND bucket_ts = $2;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM price_snapshots;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for price snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot PriceSnapshot) error
	ListSnapshotsBetween(ctx context.Context, identifier string, from, to time.Time) ([]PriceSnapshot, error)
	ListRecentSnapshots(ctx context.Context, identifier string, limit int) ([]PriceSnapshot, error)
	MarkSnapshotErrored(ctx context.Context, identifier string, bucket time.Time, errMsg string) error
	CountSnapshots(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or updates one feed observation.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot PriceSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if snapshot.Error != nil {
		errMsg = *snapshot.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snapshot.Identifier,
		snapshot.Bucket,
		snapshot.Price.String(),
		snapshot.Decimals,
		snapshot.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists one feed's snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, identifier string, from, to time.Time) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, identifier, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]PriceSnapshot, 0)
	for rows.Next() {
		snapshot, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by
// descending bucket. An empty identifier selects every feed.
func (s *Store) ListRecentSnapshots(ctx context.Context, identifier string, limit int) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if identifier == "" {
		rows, queryErr = pool.Query(ctx, listRecentSnapshotsSQL, limit)
	} else {
		rows, queryErr = pool.Query(ctx, listRecentForFeedSQL, identifier, limit)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]PriceSnapshot, 0, limit)
	for rows.Next() {
		snapshot, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// MarkSnapshotErrored marks a snapshot as errored.
func (s *Store) MarkSnapshotErrored(ctx context.Context, identifier string, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markSnapshotErroredSQL, identifier, bucket, errMsg)
	if execErr != nil {
		return fmt.Errorf("mark snapshot errored: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

func scanSnapshot(rows pgx.Rows) (PriceSnapshot, error) {
	var (
		identifier string
		bucket     time.Time
		priceStr   string
		decimals   int32
		status     string
		errMsg     sql.NullString
		createdAt  time.Time
	)

	if err := rows.Scan(
		&identifier,
		&bucket,
		&priceStr,
		&decimals,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return PriceSnapshot{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("parse price: %w", err)
	}

	snapshot := PriceSnapshot{
		Identifier: identifier,
		Bucket:     bucket,
		Price:      price,
		Decimals:   decimals,
		Status:     status,
		CreatedAt:  createdAt,
	}

	if errMsg.Valid {
		msg := errMsg.String
		snapshot.Error = &msg
	}

	return snapshot, nil
}
