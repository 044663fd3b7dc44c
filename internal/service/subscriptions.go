package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	edlib "github.com/hbollon/go-edlib"

	"coin-price-alerts/internal/config"
	"coin-price-alerts/internal/storage"
)

var (
	// ErrThresholdOutOfRange rejects thresholds outside the allowed percentage range.
	ErrThresholdOutOfRange = fmt.Errorf("threshold must be between %d and %d percent", config.MinThresholdPct, config.MaxThresholdPct)
	// ErrCooldownOutOfRange rejects cooldowns outside the allowed hour range.
	ErrCooldownOutOfRange = fmt.Errorf("cooldown must be between %d and %d hours", config.MinCooldownHours, config.MaxCooldownHours)
)

const maxSuggestions = 3

// UnknownAssetError reports an asset id absent from the catalog, with
// close-match suggestions when any exist.
type UnknownAssetError struct {
	Asset       string
	Suggestions []string
}

func (e *UnknownAssetError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown asset %q", e.Asset)
	}
	return fmt.Sprintf("unknown asset %q (did you mean %s?)", e.Asset, strings.Join(e.Suggestions, ", "))
}

// Subscribe registers a user for alerts on one asset. The asset row is created
// on first reference; duplicate pairs are rejected by the store.
func (s *Service) Subscribe(ctx context.Context, userID int64, assetID string, thresholdPct, cooldownHours int) error {
	assetID = normalizeAssetID(assetID)

	if err := validateSettings(thresholdPct, cooldownHours); err != nil {
		return err
	}

	known, err := s.catalog.CatalogHas(ctx, assetID)
	if err != nil {
		return fmt.Errorf("check catalog: %w", err)
	}
	if !known {
		suggestions, suggestErr := s.SuggestCoins(ctx, assetID)
		if suggestErr != nil {
			s.logger.Debug().Err(suggestErr).Str("asset", assetID).Msg("suggestion lookup failed")
		}
		return &UnknownAssetError{Asset: assetID, Suggestions: suggestions}
	}

	sub := storage.Subscription{
		UserID:       userID,
		AssetID:      assetID,
		ThresholdPct: thresholdPct,
		Interval:     time.Duration(cooldownHours) * time.Hour,
		LastAlert:    time.Now().UTC(),
	}
	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		return err
	}

	s.logger.Info().Int64("user_id", userID).Str("asset", assetID).
		Int("threshold_pct", thresholdPct).
		Int("cooldown_hours", cooldownHours).
		Msg("subscription created")
	return nil
}

// Unsubscribe removes the (user, asset) pair; the asset row is garbage
// collected with its last subscription.
func (s *Service) Unsubscribe(ctx context.Context, userID int64, assetID string) error {
	return s.subs.DeleteSubscription(ctx, userID, normalizeAssetID(assetID))
}

// UpdateSettings changes a subscription's threshold and cooldown.
func (s *Service) UpdateSettings(ctx context.Context, userID int64, assetID string, thresholdPct, cooldownHours int) error {
	if err := validateSettings(thresholdPct, cooldownHours); err != nil {
		return err
	}
	return s.subs.UpdateSubscriptionSettings(ctx, userID, normalizeAssetID(assetID), thresholdPct, time.Duration(cooldownHours)*time.Hour)
}

// Subscriptions lists one user's subscriptions.
func (s *Service) Subscriptions(ctx context.Context, userID int64) ([]storage.Subscription, error) {
	return s.subs.ListSubscriptionsByUser(ctx, userID)
}

// HasPriceHistory reports whether any sample exists for the asset, so callers
// can answer "prices aren't ready yet" instead of an empty report.
func (s *Service) HasPriceHistory(ctx context.Context, assetID string) (bool, error) {
	return s.history.HasPriceHistory(ctx, normalizeAssetID(assetID))
}

// SuggestCoins returns catalog ids close to the query.
func (s *Service) SuggestCoins(ctx context.Context, query string) ([]string, error) {
	coins, err := s.catalog.ListCatalogCoins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog coins: %w", err)
	}

	ids := make([]string, 0, len(coins))
	for _, coin := range coins {
		ids = append(ids, coin.ID)
	}

	matches, err := edlib.FuzzySearchSetThreshold(normalizeAssetID(query), ids, maxSuggestions, 0.5, edlib.Levenshtein)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search: %w", err)
	}

	suggestions := make([]string, 0, len(matches))
	for _, match := range matches {
		if match == "" {
			continue
		}
		suggestions = append(suggestions, match)
	}
	return suggestions, nil
}

func validateSettings(thresholdPct, cooldownHours int) error {
	if thresholdPct < config.MinThresholdPct || thresholdPct > config.MaxThresholdPct {
		return ErrThresholdOutOfRange
	}
	if cooldownHours < config.MinCooldownHours || cooldownHours > config.MaxCooldownHours {
		return ErrCooldownOutOfRange
	}
	return nil
}

func normalizeAssetID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
