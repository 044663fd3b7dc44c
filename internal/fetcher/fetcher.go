package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// CatalogEntry is one asset from the provider's master list.
type CatalogEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// PriceFetcher retrieves current spot prices for a batch of asset ids.
// The returned map may omit ids the provider does not recognise or failed to
// price this call; a missing entry is not an error. A non-nil error means the
// whole batch failed and the caller should retry on its next tick.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
}

// CatalogFetcher retrieves the provider's full list of known assets.
type CatalogFetcher interface {
	FetchCoinsList(ctx context.Context) ([]CatalogEntry, error)
}
