package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/alerting"
	"coin-price-alerts/internal/config"
	"coin-price-alerts/internal/fetcher"
	"coin-price-alerts/internal/storage"
)

type fakeStore struct {
	subs    []storage.Subscription
	samples []storage.PriceSample
	catalog []storage.CatalogCoin

	listAssetsErr error
	insertErr     error
}

func (f *fakeStore) CreateSubscription(ctx context.Context, sub storage.Subscription) error {
	for _, existing := range f.subs {
		if existing.UserID == sub.UserID && existing.AssetID == sub.AssetID {
			return storage.ErrSubscriptionExists
		}
	}
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, userID int64, assetID string) error {
	for i, sub := range f.subs {
		if sub.UserID == userID && sub.AssetID == assetID {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return nil
		}
	}
	return storage.ErrSubscriptionNotFound
}

func (f *fakeStore) UpdateSubscriptionSettings(ctx context.Context, userID int64, assetID string, thresholdPct int, interval time.Duration) error {
	for i, sub := range f.subs {
		if sub.UserID == userID && sub.AssetID == assetID {
			f.subs[i].ThresholdPct = thresholdPct
			f.subs[i].Interval = interval
			return nil
		}
	}
	return storage.ErrSubscriptionNotFound
}

func (f *fakeStore) UpdateLastAlert(ctx context.Context, userID int64, assetID string, at time.Time) error {
	for i, sub := range f.subs {
		if sub.UserID == userID && sub.AssetID == assetID && !at.Before(sub.LastAlert) {
			f.subs[i].LastAlert = at
		}
	}
	return nil
}

func (f *fakeStore) ListSubscriptionsByAsset(ctx context.Context, assetID string) ([]storage.Subscription, error) {
	subs := make([]storage.Subscription, 0)
	for _, sub := range f.subs {
		if sub.AssetID == assetID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (f *fakeStore) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]storage.Subscription, error) {
	subs := make([]storage.Subscription, 0)
	for _, sub := range f.subs {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (f *fakeStore) ListActiveAssets(ctx context.Context) ([]string, error) {
	if f.listAssetsErr != nil {
		return nil, f.listAssetsErr
	}
	seen := make(map[string]struct{})
	assets := make([]string, 0)
	for _, sub := range f.subs {
		if _, ok := seen[sub.AssetID]; ok {
			continue
		}
		seen[sub.AssetID] = struct{}{}
		assets = append(assets, sub.AssetID)
	}
	sort.Strings(assets)
	return assets, nil
}

func (f *fakeStore) InsertPriceSamples(ctx context.Context, samples []storage.PriceSample) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.samples = append(f.samples, samples...)
	return nil
}

func (f *fakeStore) ListSamplesWithin(ctx context.Context, assetID string, from, to time.Time) ([]storage.PriceSample, error) {
	matched := make([]storage.PriceSample, 0)
	for _, sample := range f.samples {
		if sample.AssetID != assetID {
			continue
		}
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		matched = append(matched, sample)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched, nil
}

func (f *fakeStore) HasPriceHistory(ctx context.Context, assetID string) (bool, error) {
	for _, sample := range f.samples {
		if sample.AssetID == assetID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := make([]storage.PriceSample, 0, len(f.samples))
	var deleted int64
	for _, sample := range f.samples {
		if sample.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, sample)
	}
	f.samples = kept
	return deleted, nil
}

func (f *fakeStore) InsertCatalogCoins(ctx context.Context, coins []storage.CatalogCoin) error {
	f.catalog = append(f.catalog, coins...)
	return nil
}

func (f *fakeStore) ListCatalogCoins(ctx context.Context) ([]storage.CatalogCoin, error) {
	return f.catalog, nil
}

func (f *fakeStore) CatalogHas(ctx context.Context, id string) (bool, error) {
	for _, coin := range f.catalog {
		if coin.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountCatalogCoins(ctx context.Context) (int64, error) {
	return int64(len(f.catalog)), nil
}

type fakePriceFetcher struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (f *fakePriceFetcher) FetchPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

type fakeCatalogFetcher struct {
	entries []fetcher.CatalogEntry
	err     error
}

func (f *fakeCatalogFetcher) FetchCoinsList(ctx context.Context) ([]fetcher.CatalogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

type fakeNotifier struct {
	notes []alerting.Notification
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.notes = append(f.notes, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Alerting:  config.AlertingConfig{Enabled: true},
		Retention: config.RetentionConfig{Horizon: 72 * time.Hour},
	}
}

func newTestService(st *fakeStore, prices *fakePriceFetcher, coins *fakeCatalogFetcher, notifier *fakeNotifier) *Service {
	return New(testConfig(), st, st, st, prices, coins, notifier, nil, zerolog.Nop())
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func findSub(t *testing.T, st *fakeStore, userID int64, assetID string) storage.Subscription {
	t.Helper()
	for _, sub := range st.subs {
		if sub.UserID == userID && sub.AssetID == assetID {
			return sub
		}
	}
	t.Fatalf("subscription %d/%s not found", userID, assetID)
	return storage.Subscription{}
}

func TestProcessTickFiresAboveThreshold(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: time.Hour, LastAlert: t0.Add(-2 * time.Hour),
		}},
		samples: []storage.PriceSample{{AssetID: "bitcoin", Price: dec(100), Timestamp: t0.Add(-10 * time.Minute)}},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick failed: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.ChatID != 7 || note.Asset != "bitcoin" {
		t.Fatalf("unexpected notification: %#v", note)
	}
	if !note.DiffPct.Equal(dec(10)) {
		t.Fatalf("expected diff 10%%, got %s", note.DiffPct)
	}
	if note.Direction != "up" {
		t.Fatalf("expected direction up, got %s", note.Direction)
	}
	if got := findSub(t, st, 7, "bitcoin").LastAlert; !got.Equal(t0) {
		t.Fatalf("last_alert should advance to tick time, got %s", got)
	}
}

func TestProcessTickBelowThresholdDoesNotFire(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lastAlert := t0.Add(-2 * time.Hour)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 15,
			Interval: time.Hour, LastAlert: lastAlert,
		}},
		samples: []storage.PriceSample{{AssetID: "bitcoin", Price: dec(100), Timestamp: t0.Add(-10 * time.Minute)}},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick failed: %v", err)
	}

	if len(notifier.notes) != 0 {
		t.Fatalf("10%% move must not breach a 15%% threshold")
	}
	if got := findSub(t, st, 7, "bitcoin").LastAlert; !got.Equal(lastAlert) {
		t.Fatalf("last_alert must be unchanged, got %s", got)
	}
}

func TestCooldownSuppressesBreach(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lastAlert := t0.Add(-30 * time.Minute)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: time.Hour, LastAlert: lastAlert,
		}},
		samples: []storage.PriceSample{{AssetID: "bitcoin", Price: dec(100), Timestamp: t0.Add(-10 * time.Minute)}},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick failed: %v", err)
	}

	if len(notifier.notes) != 0 {
		t.Fatal("breach inside the cooldown window must not notify")
	}
	if got := findSub(t, st, 7, "bitcoin").LastAlert; !got.Equal(lastAlert) {
		t.Fatalf("suppressed breach must not touch last_alert, got %s", got)
	}
}

func TestFailedDispatchDoesNotConsumeCooldown(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lastAlert := t0.Add(-2 * time.Hour)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: time.Hour, LastAlert: lastAlert,
		}},
		samples: []storage.PriceSample{{AssetID: "bitcoin", Price: dec(100), Timestamp: t0.Add(-10 * time.Minute)}},
	}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick should not fail the tick on dispatch errors: %v", err)
	}

	if got := findSub(t, st, 7, "bitcoin").LastAlert; !got.Equal(lastAlert) {
		t.Fatalf("last_alert must only move after a confirmed dispatch, got %s", got)
	}
}

func TestFirstQualifyingSampleWinsOverWorst(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: time.Hour, LastAlert: t0.Add(-2 * time.Hour),
		}},
		samples: []storage.PriceSample{
			// Oldest first in insertion order; the evaluator scans newest first.
			{AssetID: "bitcoin", Price: dec(80), Timestamp: t0.Add(-50 * time.Minute)},  // 37.5% swing
			{AssetID: "bitcoin", Price: dec(100), Timestamp: t0.Add(-30 * time.Minute)}, // 10% swing
			{AssetID: "bitcoin", Price: dec(109), Timestamp: t0.Add(-5 * time.Minute)},  // below threshold
		},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick failed: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.notes))
	}
	// The 30-minute-old sample is the first qualifying one scanning newest
	// first; the worse 50-minute-old swing must not be reported.
	if got := notifier.notes[0].Elapsed; got != 30*time.Minute {
		t.Fatalf("expected elapsed 30m from the first qualifying sample, got %s", got)
	}
	if !notifier.notes[0].DiffPct.Equal(dec(10)) {
		t.Fatalf("expected diff 10%%, got %s", notifier.notes[0].DiffPct)
	}
}

func TestWholeBatchFetchFailureAbortsTick(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: time.Hour, LastAlert: t0.Add(-2 * time.Hour),
		}},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{err: errors.New("provider unreachable")}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err == nil {
		t.Fatal("whole-batch failure must abort the tick with an error")
	}
	if len(st.samples) != 0 {
		t.Fatalf("no samples must be written on an aborted tick, got %d", len(st.samples))
	}
	if len(notifier.notes) != 0 {
		t.Fatal("no alerts must be evaluated on an aborted tick")
	}
}

func TestPartialPricesSkipUnpricedAssets(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		subs: []storage.Subscription{
			{UserID: 7, AssetID: "bitcoin", ThresholdPct: 5, Interval: time.Hour, LastAlert: t0.Add(-2 * time.Hour)},
			{UserID: 7, AssetID: "ethereum", ThresholdPct: 5, Interval: time.Hour, LastAlert: t0.Add(-2 * time.Hour)},
		},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("partial availability is not an error: %v", err)
	}

	if len(st.samples) != 1 {
		t.Fatalf("inserted samples must equal priced assets: got %d, want 1", len(st.samples))
	}
	if st.samples[0].AssetID != "bitcoin" || !st.samples[0].Price.Equal(dec(110)) || !st.samples[0].Timestamp.Equal(t0) {
		t.Fatalf("sample must round-trip asset, price, and timestamp: %#v", st.samples[0])
	}
}

func TestEmptyActiveAssetsSkipsFetch(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePriceFetcher{}
	svc := newTestService(st, prices, nil, &fakeNotifier{})

	if err := svc.ProcessTick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("empty tick must be a no-op: %v", err)
	}
	if prices.calls != 0 {
		t.Fatalf("no fetch expected without subscribed assets, got %d calls", prices.calls)
	}
}

func TestZeroPriceSampleIsIgnored(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: time.Hour, LastAlert: t0.Add(-2 * time.Hour),
		}},
		samples: []storage.PriceSample{{AssetID: "bitcoin", Price: decimal.Zero, Timestamp: t0.Add(-10 * time.Minute)}},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(st, &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(110)}}, nil, notifier)

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick failed: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("a zero-price sample must never qualify as a trigger")
	}
}

func TestCooldownScenarioAcrossTicks(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		subs: []storage.Subscription{{
			UserID: 7, AssetID: "bitcoin", ThresholdPct: 5,
			Interval: 3600 * time.Second, LastAlert: t0,
		}},
		samples: []storage.PriceSample{{AssetID: "bitcoin", Price: dec(100), Timestamp: t0.Add(10 * time.Minute)}},
	}
	notifier := &fakeNotifier{}
	prices := &fakePriceFetcher{prices: map[string]decimal.Decimal{"bitcoin": dec(107)}}
	svc := newTestService(st, prices, nil, notifier)

	tick1 := t0.Add(70 * time.Minute)
	if err := svc.ProcessTick(context.Background(), tick1); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("7%% move past an elapsed cooldown must fire, got %d notifications", len(notifier.notes))
	}
	if got := findSub(t, st, 7, "bitcoin").LastAlert; !got.Equal(tick1) {
		t.Fatalf("last_alert must be the firing tick time, got %s", got)
	}

	prices.prices = map[string]decimal.Decimal{"bitcoin": dec(108)}
	tick2 := t0.Add(100 * time.Minute)
	if err := svc.ProcessTick(context.Background(), tick2); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatal("second tick must not re-fire inside the cooldown")
	}
	if got := findSub(t, st, 7, "bitcoin").LastAlert; !got.Equal(tick1) {
		t.Fatalf("last_alert must be unchanged by the suppressed tick, got %s", got)
	}
}

func TestPruneHistoryIsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		samples: []storage.PriceSample{
			{AssetID: "bitcoin", Price: dec(90), Timestamp: now.Add(-80 * time.Hour)},
			{AssetID: "bitcoin", Price: dec(95), Timestamp: now.Add(-73 * time.Hour)},
			{AssetID: "bitcoin", Price: dec(100), Timestamp: now.Add(-time.Hour)},
		},
	}
	svc := newTestService(st, &fakePriceFetcher{}, nil, &fakeNotifier{})

	if err := svc.PruneHistory(context.Background(), now); err != nil {
		t.Fatalf("first prune failed: %v", err)
	}
	if len(st.samples) != 1 {
		t.Fatalf("expected 1 sample inside the horizon, got %d", len(st.samples))
	}

	if err := svc.PruneHistory(context.Background(), now); err != nil {
		t.Fatalf("second prune failed: %v", err)
	}
	if len(st.samples) != 1 {
		t.Fatal("a second prune without new samples must delete nothing")
	}
}

func TestSyncCatalogInsertsOnlyNewEntries(t *testing.T) {
	st := &fakeStore{catalog: []storage.CatalogCoin{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}}}
	coins := &fakeCatalogFetcher{entries: []fetcher.CatalogEntry{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
		{ID: "ethereum", Symbol: "eth", Name: "Ethereum"},
	}}
	svc := newTestService(st, &fakePriceFetcher{}, coins, &fakeNotifier{})

	if err := svc.SyncCatalog(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("SyncCatalog failed: %v", err)
	}

	if len(st.catalog) != 2 {
		t.Fatalf("expected 2 catalog entries, got %d", len(st.catalog))
	}
	if st.catalog[1].ID != "ethereum" {
		t.Fatalf("expected ethereum appended, got %#v", st.catalog[1])
	}
}
