package cli

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateChatID   int64
	simulateAsset    string
	simulatePrevious float64
	simulateCurrent  float64
	simulateElapsed  time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Render and dispatch a test alert for a given price move",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateChatID == 0 {
			return errors.New("--chat is required")
		}
		if simulateAsset == "" {
			return errors.New("--asset is required")
		}
		if simulatePrevious <= 0 || simulateCurrent <= 0 {
			return errors.New("--previous and --current must be greater than 0")
		}

		previous := decimal.NewFromFloat(simulatePrevious)
		current := decimal.NewFromFloat(simulateCurrent)
		return getApp().SimulateAlert(cmd.Context(), simulateChatID, simulateAsset, previous, current, simulateElapsed)
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateChatID, "chat", 0, "Chat id to send the test alert to")
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "Asset id (e.g. bitcoin)")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Reference price")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current price")
	simulateCmd.Flags().DurationVar(&simulateElapsed, "elapsed", 30*time.Minute, "Elapsed time since the reference price")
}
