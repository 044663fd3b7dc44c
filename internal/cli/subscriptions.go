package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"coin-price-alerts/internal/app"
)

var (
	subUserID   int64
	subAsset    string
	subPct      int
	subCooldown int
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe a user to price alerts for an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if subUserID == 0 {
			return errors.New("--user is required")
		}
		if subAsset == "" {
			return errors.New("--asset is required")
		}

		opts := app.SubscribeOptions{
			UserID:        subUserID,
			Asset:         subAsset,
			ThresholdPct:  subPct,
			CooldownHours: subCooldown,
		}
		return getApp().Subscribe(cmd.Context(), opts)
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove a user's subscription for an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if subUserID == 0 {
			return errors.New("--user is required")
		}
		if subAsset == "" {
			return errors.New("--asset is required")
		}
		return getApp().Unsubscribe(cmd.Context(), subUserID, subAsset)
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "List a user's subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if subUserID == 0 {
			return errors.New("--user is required")
		}
		return getApp().ListSubscriptions(cmd.Context(), subUserID)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{subscribeCmd, unsubscribeCmd, subscriptionsCmd} {
		cmd.Flags().Int64Var(&subUserID, "user", 0, "User (chat) id")
	}
	subscribeCmd.Flags().StringVar(&subAsset, "asset", "", "Asset id (e.g. bitcoin)")
	unsubscribeCmd.Flags().StringVar(&subAsset, "asset", "", "Asset id (e.g. bitcoin)")
	subscribeCmd.Flags().IntVar(&subPct, "threshold", 5, "Alert threshold in percent (1-100)")
	subscribeCmd.Flags().IntVar(&subCooldown, "cooldown", 1, "Alert cooldown in hours (1-24)")
}
