package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is a user's registration for one asset's price moves.
type Subscription struct {
	UserID       int64
	AssetID      string
	ThresholdPct int
	// Interval is the evaluation lookback window and also the minimum
	// spacing between two alerts for this subscription.
	Interval  time.Duration
	LastAlert time.Time
	CreatedAt time.Time
}

// PriceSample is one spot price observation, append-only.
type PriceSample struct {
	AssetID   string
	Price     decimal.Decimal
	Timestamp time.Time
}

// CatalogCoin is a known asset from the quote provider's master list.
type CatalogCoin struct {
	ID     string
	Symbol string
	Name   string
}
