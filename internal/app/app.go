package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coin-price-alerts/internal/alerting"
	"coin-price-alerts/internal/config"
	"coin-price-alerts/internal/fetcher"
	"coin-price-alerts/internal/metrics"
	"coin-price-alerts/internal/scheduler"
	"coin-price-alerts/internal/service"
	"coin-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() *fetcher.CoinGecko {
	return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:    a.Config.CoinGecko.BaseURL,
		VsCurrency: a.Config.CoinGecko.VsCurrency,
		Timeout:    a.Config.CoinGecko.RequestTimeout,
		UserAgent:  a.Config.CoinGecko.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, m *metrics.Metrics) *service.Service {
	gecko := a.newFetcher()
	return service.New(a.Config, store, store, store, gecko, gecko, a.newNotifier(), m, a.Logger)
}

// Run executes the long-running monitoring engine.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	m := metrics.New()
	svc := a.newService(store, m)

	if err := svc.BootstrapCatalog(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("initial catalog sync failed; continuing with empty catalog")
	}

	if a.Config.Metrics.Enabled {
		go func() {
			if err := m.ListenAndServe(a.Config.Metrics.Port); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint terminated")
			}
		}()
		a.Logger.Info().Int("port", a.Config.Metrics.Port).Msg("metrics endpoint listening")
	}

	sched := scheduler.New(a.Logger)
	sched.Register("sampling", scheduler.Options{
		Interval:     a.Config.Scheduler.SamplingInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.countTickErrors(m, svc.ProcessTick))
	sched.Register("catalog_sync", scheduler.Options{
		Interval: a.Config.Scheduler.CatalogSyncInterval,
	}, a.countTickErrors(m, svc.SyncCatalog))
	sched.Register("retention", scheduler.Options{
		Interval: a.Config.Scheduler.RetentionInterval,
	}, a.countTickErrors(m, svc.PruneHistory))

	a.Logger.Info().Msg("starting monitoring engine")
	err = sched.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring engine stopped")
	return nil
}

func (a *App) countTickErrors(m *metrics.Metrics, tick scheduler.TickFunc) scheduler.TickFunc {
	return func(ctx context.Context, now time.Time) error {
		err := tick(ctx, now)
		if err != nil {
			m.TickErrors.Inc()
		}
		return err
	}
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset string
	Limit int
}
