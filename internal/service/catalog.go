package service

import (
	"context"
	"fmt"
	"time"

	"coin-price-alerts/internal/storage"
)

// SyncCatalog refreshes the local asset master list from the quote provider,
// inserting entries not seen before.
func (s *Service) SyncCatalog(ctx context.Context, now time.Time) error {
	entries, err := s.coins.FetchCoinsList(ctx)
	if err != nil {
		return fmt.Errorf("fetch coins list: %w", err)
	}

	local, err := s.catalog.ListCatalogCoins(ctx)
	if err != nil {
		return fmt.Errorf("list catalog coins: %w", err)
	}

	known := make(map[string]struct{}, len(local))
	for _, coin := range local {
		known[coin.ID] = struct{}{}
	}

	fresh := make([]storage.CatalogCoin, 0)
	for _, entry := range entries {
		if _, ok := known[entry.ID]; ok {
			continue
		}
		fresh = append(fresh, storage.CatalogCoin{ID: entry.ID, Symbol: entry.Symbol, Name: entry.Name})
	}

	if len(fresh) == 0 {
		s.logger.Debug().Msg("catalog already up to date")
		return nil
	}

	if err := s.catalog.InsertCatalogCoins(ctx, fresh); err != nil {
		return fmt.Errorf("insert catalog coins: %w", err)
	}

	s.logger.Info().Int("added", len(fresh)).Msg("catalog synchronised")
	return nil
}

// BootstrapCatalog performs an initial sync when the local catalog is empty,
// so subscription validation works from the first start.
func (s *Service) BootstrapCatalog(ctx context.Context) error {
	count, err := s.catalog.CountCatalogCoins(ctx)
	if err != nil {
		return fmt.Errorf("count catalog coins: %w", err)
	}
	if count > 0 {
		return nil
	}
	return s.SyncCatalog(ctx, time.Now().UTC())
}
