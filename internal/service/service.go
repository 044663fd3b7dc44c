package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/alerting"
	"coin-price-alerts/internal/config"
	"coin-price-alerts/internal/fetcher"
	"coin-price-alerts/internal/metrics"
	"coin-price-alerts/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// Service orchestrates sampling, persistence, evaluation, and alerting.
type Service struct {
	subs     storage.SubscriptionStore
	history  storage.PriceHistoryStore
	catalog  storage.CatalogStore
	prices   fetcher.PriceFetcher
	coins    fetcher.CatalogFetcher
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	retentionHorizon time.Duration
	alertsOn         bool
	locker           storage.AdvisoryLocker
	lockKey          int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, subs storage.SubscriptionStore, history storage.PriceHistoryStore, catalog storage.CatalogStore, prices fetcher.PriceFetcher, coins fetcher.CatalogFetcher, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := history.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		subs:             subs,
		history:          history,
		catalog:          catalog,
		prices:           prices,
		coins:            coins,
		notifier:         notifier,
		metrics:          m,
		logger:           logger.With().Str("component", "service").Logger(),
		retentionHorizon: cfg.Retention.Horizon,
		alertsOn:         cfg.Alerting.Enabled,
		locker:           locker,
		lockKey:          cfg.Scheduler.AdvisoryLockKey,
	}
}

// ProcessTick runs one sampling+evaluation pass at the given tick time.
func (s *Service) ProcessTick(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", now).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeTick(ctx, now)
}

func (s *Service) executeTick(ctx context.Context, now time.Time) error {
	assets, err := s.subs.ListActiveAssets(ctx)
	if err != nil {
		return fmt.Errorf("list active assets: %w", err)
	}
	if len(assets) == 0 {
		s.logger.Debug().Time("tick", now).Msg("no subscribed assets; nothing to sample")
		return nil
	}

	// A whole-batch fetch failure aborts the tick: no samples, no evaluation.
	prices, err := s.prices.FetchPrices(ctx, assets)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	samples := make([]storage.PriceSample, 0, len(prices))
	for _, asset := range assets {
		price, ok := prices[asset]
		if !ok {
			// Provider omitted this asset for the tick; skip, not an error.
			s.logger.Debug().Str("asset", asset).Msg("no price returned this tick")
			continue
		}
		samples = append(samples, storage.PriceSample{AssetID: asset, Price: price, Timestamp: now})
	}

	if err := s.history.InsertPriceSamples(ctx, samples); err != nil {
		return fmt.Errorf("insert price samples: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SamplesInserted.Add(float64(len(samples)))
	}

	s.logger.Info().Time("tick", now).
		Int("assets", len(assets)).
		Int("sampled", len(samples)).
		Msg("samples recorded")

	if !s.alertsOn || s.notifier == nil {
		return nil
	}

	for _, asset := range assets {
		price, ok := prices[asset]
		if !ok {
			continue
		}
		if err := s.evaluateAsset(ctx, now, asset, price); err != nil {
			s.logger.Error().Err(err).Str("asset", asset).Msg("alert evaluation failed")
		}
	}
	return nil
}

func (s *Service) evaluateAsset(ctx context.Context, now time.Time, asset string, current decimal.Decimal) error {
	subs, err := s.subs.ListSubscriptionsByAsset(ctx, asset)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if err := s.evaluateSubscription(ctx, now, sub, current); err != nil {
			s.logger.Error().Err(err).
				Int64("user_id", sub.UserID).
				Str("asset", sub.AssetID).
				Msg("failed to process subscription")
		}
	}
	return nil
}

func (s *Service) evaluateSubscription(ctx context.Context, now time.Time, sub storage.Subscription, current decimal.Decimal) error {
	history, err := s.history.ListSamplesWithin(ctx, sub.AssetID, now.Add(-sub.Interval), now)
	if err != nil {
		return fmt.Errorf("query price history: %w", err)
	}

	trigger, diffPct, breached := findBreach(history, current, sub.ThresholdPct)
	if !breached {
		return nil
	}

	// A breach inside the cooldown window is dropped, not queued.
	if now.Sub(sub.LastAlert) <= sub.Interval {
		s.logger.Debug().
			Int64("user_id", sub.UserID).
			Str("asset", sub.AssetID).
			Time("last_alert", sub.LastAlert).
			Msg("breach suppressed by cooldown")
		return nil
	}

	note := alerting.Notification{
		ChatID:       sub.UserID,
		Asset:        sub.AssetID,
		CurrentPrice: current,
		DiffPct:      diffPct.Round(2),
		Direction:    classifyDiff(diffPct),
		Elapsed:      now.Sub(trigger.Timestamp),
	}

	// last_alert moves only after a confirmed dispatch so that a failed send
	// does not consume the cooldown.
	if err := s.notifier.Notify(ctx, note); err != nil {
		if s.metrics != nil {
			s.metrics.NotifyFailures.Inc()
		}
		return fmt.Errorf("dispatch alert: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AlertsSent.Inc()
	}

	if err := s.subs.UpdateLastAlert(ctx, sub.UserID, sub.AssetID, now); err != nil {
		return fmt.Errorf("update last alert: %w", err)
	}
	return nil
}

// findBreach scans the window most-recent-first and returns the first sample
// whose relative change against the current price exceeds the threshold. It
// deliberately stops at the first qualifying sample rather than hunting for
// the worst swing in the window.
func findBreach(history []storage.PriceSample, current decimal.Decimal, thresholdPct int) (storage.PriceSample, decimal.Decimal, bool) {
	threshold := decimal.NewFromInt(int64(thresholdPct))
	for _, sample := range history {
		if sample.Price.IsZero() {
			continue
		}
		diffPct := current.Sub(sample.Price).Div(sample.Price).Mul(dec100)
		if diffPct.Abs().GreaterThan(threshold) {
			return sample, diffPct, true
		}
	}
	return storage.PriceSample{}, decimal.Decimal{}, false
}

func classifyDiff(d decimal.Decimal) string {
	if d.Sign() < 0 {
		return "down"
	}
	return "up"
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
