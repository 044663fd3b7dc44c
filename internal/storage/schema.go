package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
        id TEXT PRIMARY KEY
    );`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
        user_id       BIGINT NOT NULL,
        asset_id      TEXT NOT NULL REFERENCES assets (id),
        threshold_pct INT NOT NULL,
        interval_secs BIGINT NOT NULL,
        last_alert    TIMESTAMPTZ NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (user_id, asset_id)
    );`,
	`CREATE TABLE IF NOT EXISTS price_samples (
        asset_id TEXT NOT NULL,
        price    NUMERIC NOT NULL,
        ts       TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS price_samples_asset_ts_idx
        ON price_samples (asset_id, ts DESC);`,
	`CREATE TABLE IF NOT EXISTS catalog_coins (
        id     TEXT PRIMARY KEY,
        symbol TEXT NOT NULL,
        name   TEXT NOT NULL
    );`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
