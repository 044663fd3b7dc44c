package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/alerting"
)

// SimulateAlert renders and dispatches one alert as if the given price move
// had been observed, without touching the store.
func (a *App) SimulateAlert(ctx context.Context, chatID int64, asset string, previous, current decimal.Decimal, elapsed time.Duration) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled in config")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	diffPct := current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100))

	direction := "up"
	if diffPct.Sign() < 0 {
		direction = "down"
	}

	note := alerting.Notification{
		ChatID:       chatID,
		Asset:        asset,
		CurrentPrice: current,
		DiffPct:      diffPct.Round(2),
		Direction:    direction,
		Elapsed:      elapsed,
	}
	return notifier.Notify(ctx, note)
}
