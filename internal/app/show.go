package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent price samples for one asset.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	asset := strings.ToLower(opts.Asset)
	samples, err := store.ListRecentSamples(ctx, asset, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		// Matches the user-facing behavior: no history means "not ready yet",
		// never an empty report.
		fmt.Fprintf(os.Stdout, "no price history for %s yet\n", asset)
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tPrice (USD)")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.AssetID,
			sample.Price.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}
