package storage

import (
	"context"
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
	// ErrSubscriptionExists indicates the (user, asset) pair is already subscribed.
	ErrSubscriptionExists = errors.New("storage: subscription already exists")
	// ErrSubscriptionNotFound indicates no such (user, asset) pair.
	ErrSubscriptionNotFound = errors.New("storage: subscription not found")
)

const (
	insertAssetSQL = `INSERT INTO assets (id) VALUES ($1)
    ON CONFLICT (id) DO NOTHING;`

	deleteOrphanAssetSQL = `DELETE FROM assets
    WHERE id = $1
      AND NOT EXISTS (SELECT 1 FROM subscriptions WHERE asset_id = $1);`

	insertSubscriptionSQL = `INSERT INTO subscriptions (
        user_id, asset_id, threshold_pct, interval_secs, last_alert, created_at
    ) VALUES ($1,$2,$3,$4,$5,$5)
    ON CONFLICT (user_id, asset_id) DO NOTHING;`

	deleteSubscriptionSQL = `DELETE FROM subscriptions
    WHERE user_id = $1 AND asset_id = $2;`

	updateSubscriptionSettingsSQL = `UPDATE subscriptions
    SET threshold_pct = $3, interval_secs = $4
    WHERE user_id = $1 AND asset_id = $2;`

	updateLastAlertSQL = `UPDATE subscriptions
    SET last_alert = $3
    WHERE user_id = $1 AND asset_id = $2 AND last_alert <= $3;`

	listSubscriptionsByAssetSQL = `SELECT
        user_id, asset_id, threshold_pct, interval_secs, last_alert, created_at
    FROM subscriptions
    WHERE asset_id = $1
    ORDER BY user_id;`

	listSubscriptionsByUserSQL = `SELECT
        user_id, asset_id, threshold_pct, interval_secs, last_alert, created_at
    FROM subscriptions
    WHERE user_id = $1
    ORDER BY asset_id;`

	listActiveAssetsSQL = `SELECT a.id
    FROM assets a
    WHERE EXISTS (SELECT 1 FROM subscriptions s WHERE s.asset_id = a.id)
    ORDER BY a.id;`

	insertPriceSampleSQL = `INSERT INTO price_samples (asset_id, price, ts)
    VALUES ($1,$2,$3);`

	listSamplesWithinSQL = `SELECT asset_id, price, ts
    FROM price_samples
    WHERE asset_id = $1
      AND ts BETWEEN $2 AND $3
    ORDER BY ts DESC;`

	listSamplesBetweenSQL = `SELECT asset_id, price, ts
    FROM price_samples
    WHERE asset_id = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	listRecentSamplesSQL = `SELECT asset_id, price, ts
    FROM price_samples
    WHERE asset_id = $1
    ORDER BY ts DESC
    LIMIT $2;`

	hasPriceHistorySQL = `SELECT EXISTS (
        SELECT 1 FROM price_samples WHERE asset_id = $1
    );`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE ts < $1;`

	insertCatalogCoinSQL = `INSERT INTO catalog_coins (id, symbol, name)
    VALUES ($1,$2,$3)
    ON CONFLICT (id) DO NOTHING;`

	listCatalogCoinsSQL = `SELECT id, symbol, name FROM catalog_coins ORDER BY id;`

	catalogHasSQL = `SELECT EXISTS (
        SELECT 1 FROM catalog_coins WHERE id = $1
    );`

	countCatalogCoinsSQL = `SELECT COUNT(*) FROM catalog_coins;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SubscriptionStore defines operations on subscription state.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, userID int64, assetID string) error
	UpdateSubscriptionSettings(ctx context.Context, userID int64, assetID string, thresholdPct int, interval time.Duration) error
	UpdateLastAlert(ctx context.Context, userID int64, assetID string, at time.Time) error
	ListSubscriptionsByAsset(ctx context.Context, assetID string) ([]Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID int64) ([]Subscription, error)
	ListActiveAssets(ctx context.Context) ([]string, error)
}

// PriceHistoryStore defines operations on the price sample time series.
type PriceHistoryStore interface {
	InsertPriceSamples(ctx context.Context, samples []PriceSample) error
	ListSamplesWithin(ctx context.Context, assetID string, from, to time.Time) ([]PriceSample, error)
	HasPriceHistory(ctx context.Context, assetID string) (bool, error)
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CatalogStore defines operations on the asset master list.
type CatalogStore interface {
	InsertCatalogCoins(ctx context.Context, coins []CatalogCoin) error
	ListCatalogCoins(ctx context.Context) ([]CatalogCoin, error)
	CatalogHas(ctx context.Context, id string) (bool, error)
	CountCatalogCoins(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to subscriptions, price history, and the catalog.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
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

// CreateSubscription inserts the subscription and, if needed, its asset row in
// one transaction. Returns ErrSubscriptionExists for a duplicate pair.
func (s *Store) CreateSubscription(ctx context.Context, sub Subscription) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create subscription: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertAssetSQL, sub.AssetID); err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}

	tag, err := tx.Exec(ctx, insertSubscriptionSQL,
		sub.UserID,
		sub.AssetID,
		sub.ThresholdPct,
		int64(sub.Interval/time.Second),
		sub.LastAlert,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionExists
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes the pair and garbage-collects the asset row when
// it was the last subscription referencing it.
func (s *Store) DeleteSubscription(ctx context.Context, userID int64, assetID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete subscription: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, deleteSubscriptionSQL, userID, assetID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	if _, err := tx.Exec(ctx, deleteOrphanAssetSQL, assetID); err != nil {
		return fmt.Errorf("delete orphan asset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete subscription: %w", err)
	}
	return nil
}

// UpdateSubscriptionSettings changes threshold and interval for a pair.
func (s *Store) UpdateSubscriptionSettings(ctx context.Context, userID int64, assetID string, thresholdPct int, interval time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, updateSubscriptionSettingsSQL, userID, assetID, thresholdPct, int64(interval/time.Second))
	if execErr != nil {
		return fmt.Errorf("update subscription settings: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// UpdateLastAlert advances last_alert. The guard keeps it monotonically
// non-decreasing even under concurrent writers.
func (s *Store) UpdateLastAlert(ctx context.Context, userID int64, assetID string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateLastAlertSQL, userID, assetID, at); execErr != nil {
		return fmt.Errorf("update last alert: %w", execErr)
	}
	return nil
}

// ListSubscriptionsByAsset lists all subscribers of one asset.
func (s *Store) ListSubscriptionsByAsset(ctx context.Context, assetID string) ([]Subscription, error) {
	return s.listSubscriptions(ctx, listSubscriptionsByAssetSQL, assetID)
}

// ListSubscriptionsByUser lists one user's subscriptions.
func (s *Store) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]Subscription, error) {
	return s.listSubscriptions(ctx, listSubscriptionsByUserSQL, userID)
}

func (s *Store) listSubscriptions(ctx context.Context, query string, arg any) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, arg)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// ListActiveAssets returns assets that have at least one subscription.
func (s *Store) ListActiveAssets(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		assets = append(assets, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// InsertPriceSamples appends a batch of samples in one round trip.
func (s *Store) InsertPriceSamples(ctx context.Context, samples []PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(insertPriceSampleSQL, sample.AssetID, sample.Price.String(), sample.Timestamp)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range samples {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert price samples: %w", execErr)
		}
	}
	return nil
}

// ListSamplesWithin returns samples inside [from, to], most recent first.
func (s *Store) ListSamplesWithin(ctx context.Context, assetID string, from, to time.Time) ([]PriceSample, error) {
	return s.querySamples(ctx, listSamplesWithinSQL, assetID, from, to)
}

// ListSamplesBetween returns samples inside [from, to) in ascending order.
func (s *Store) ListSamplesBetween(ctx context.Context, assetID string, from, to time.Time) ([]PriceSample, error) {
	return s.querySamples(ctx, listSamplesBetweenSQL, assetID, from, to)
}

// ListRecentSamples returns the latest samples for one asset.
func (s *Store) ListRecentSamples(ctx context.Context, assetID string, limit int) ([]PriceSample, error) {
	return s.querySamples(ctx, listRecentSamplesSQL, assetID, limit)
}

func (s *Store) querySamples(ctx context.Context, query string, args ...any) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query price samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// HasPriceHistory reports whether any sample exists for the asset.
func (s *Store) HasPriceHistory(ctx context.Context, assetID string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasPriceHistorySQL, assetID).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has price history: %w", scanErr)
	}
	return exists, nil
}

// DeleteSamplesBefore prunes history older than the cutoff and reports how
// many rows were removed.
func (s *Store) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertCatalogCoins adds catalog entries, skipping ones already present.
func (s *Store) InsertCatalogCoins(ctx context.Context, coins []CatalogCoin) error {
	if len(coins) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, coin := range coins {
		batch.Queue(insertCatalogCoinSQL, coin.ID, coin.Symbol, coin.Name)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range coins {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert catalog coins: %w", execErr)
		}
	}
	return nil
}

// ListCatalogCoins returns the full master list.
func (s *Store) ListCatalogCoins(ctx context.Context) ([]CatalogCoin, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCatalogCoinsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list catalog coins: %w", queryErr)
	}
	defer rows.Close()

	coins := make([]CatalogCoin, 0)
	for rows.Next() {
		var coin CatalogCoin
		if err := rows.Scan(&coin.ID, &coin.Symbol, &coin.Name); err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return coins, nil
}

// CatalogHas reports whether the asset exists in the master list.
func (s *Store) CatalogHas(ctx context.Context, id string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, catalogHasSQL, id).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("catalog has: %w", scanErr)
	}
	return exists, nil
}

// CountCatalogCoins counts stored catalog entries.
func (s *Store) CountCatalogCoins(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countCatalogCoinsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count catalog coins: %w", scanErr)
	}
	return count, nil
}

func scanSubscription(rows pgx.Rows) (Subscription, error) {
	var (
		sub          Subscription
		intervalSecs int64
	)
	if err := rows.Scan(
		&sub.UserID,
		&sub.AssetID,
		&sub.ThresholdPct,
		&intervalSecs,
		&sub.LastAlert,
		&sub.CreatedAt,
	); err != nil {
		return Subscription{}, err
	}
	sub.Interval = time.Duration(intervalSecs) * time.Second
	return sub, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)
	if err := rows.Scan(&sample.AssetID, &priceStr, &sample.Timestamp); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	sample.Price = price
	return sample, nil
}
