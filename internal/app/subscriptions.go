package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// SubscribeOptions configure the subscribe and update commands.
type SubscribeOptions struct {
	UserID        int64
	Asset         string
	ThresholdPct  int
	CooldownHours int
}

// Subscribe creates a subscription after boundary validation.
func (a *App) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, nil)
	if err := svc.Subscribe(ctx, opts.UserID, opts.Asset, opts.ThresholdPct, opts.CooldownHours); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "subscribed %d to %s (threshold %d%%, cooldown %dh)\n",
		opts.UserID, opts.Asset, opts.ThresholdPct, opts.CooldownHours)
	return nil
}

// Unsubscribe removes a subscription.
func (a *App) Unsubscribe(ctx context.Context, userID int64, asset string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, nil)
	if err := svc.Unsubscribe(ctx, userID, asset); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "unsubscribed %d from %s\n", userID, asset)
	return nil
}

// ListSubscriptions prints one user's subscriptions, flagging assets whose
// price history is not ready yet.
func (a *App) ListSubscriptions(ctx context.Context, userID int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, nil)
	subs, err := svc.Subscriptions(ctx, userID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Fprintln(os.Stdout, "no subscriptions")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Asset\tThreshold%\tCooldown\tLast alert (UTC)\tPrices")

	for _, sub := range subs {
		ready, err := svc.HasPriceHistory(ctx, sub.AssetID)
		if err != nil {
			return err
		}
		readiness := "ready"
		if !ready {
			readiness = "not ready yet"
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\n",
			sub.AssetID,
			sub.ThresholdPct,
			sub.Interval.String(),
			sub.LastAlert.UTC().Format(time.RFC3339),
			readiness,
		)
	}

	writer.Flush()
	return nil
}
