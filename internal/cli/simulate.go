package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
	"pricewatch/internal/storage"
)

var (
	simulateChain     string
	simulateAddress   string
	simulateTarget    float64
	simulateCurrent   float64
	simulateCondition string
	simulateEmail     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed a synthetic price through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAddress == "" {
			return errors.New("--address is required")
		}
		if simulateTarget <= 0 || simulateCurrent <= 0 {
			return errors.New("--target and --current must be greater than zero")
		}
		if simulateEmail == "" {
			return errors.New("--email is required")
		}

		opts := app.SimulateAlertOptions{
			Chain:        simulateChain,
			Address:      simulateAddress,
			TargetPrice:  decimal.NewFromFloat(simulateTarget),
			CurrentPrice: decimal.NewFromFloat(simulateCurrent),
			Condition:    storage.AlertCondition(simulateCondition),
			Email:        simulateEmail,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateChain, "chain", "ethereum", "Chain the token lives on")
	simulateCmd.Flags().StringVar(&simulateAddress, "address", "", "Token contract address")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 0, "Alert target price in USD")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Synthetic current price in USD")
	simulateCmd.Flags().StringVar(&simulateCondition, "condition", "above", "Trigger direction: above or below")
	simulateCmd.Flags().StringVar(&simulateEmail, "email", "", "Recipient email address")
}
