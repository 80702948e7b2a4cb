package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
	"pricewatch/internal/storage"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage target-price alerts",
}

var (
	alertCreateChain     string
	alertCreateAddress   string
	alertCreateTarget    float64
	alertCreateCondition string
	alertCreateEmail     string
)

var alertCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a target-price alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertCreateAddress == "" {
			return errors.New("--address is required")
		}
		if alertCreateTarget <= 0 {
			return errors.New("--target must be greater than zero")
		}
		if alertCreateEmail == "" {
			return errors.New("--email is required")
		}

		opts := app.CreateAlertOptions{
			Chain:       alertCreateChain,
			Address:     alertCreateAddress,
			TargetPrice: decimal.NewFromFloat(alertCreateTarget),
			Condition:   storage.AlertCondition(alertCreateCondition),
			Email:       alertCreateEmail,
		}
		return getApp().CreateAlert(cmd.Context(), opts)
	},
}

var (
	alertListEmail string
	alertListPage  int
	alertListLimit int
)

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertListEmail == "" {
			return errors.New("--email is required")
		}

		opts := app.ListAlertsOptions{
			Email: alertListEmail,
			Page:  alertListPage,
			Limit: alertListLimit,
		}
		return getApp().ListAlerts(cmd.Context(), opts)
	},
}

var alertDisableID int64

var alertDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Deactivate an alert by id",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertDisableID <= 0 {
			return errors.New("--id must be greater than zero")
		}
		return getApp().DisableAlert(cmd.Context(), alertDisableID)
	},
}

func init() {
	alertCreateCmd.Flags().StringVar(&alertCreateChain, "chain", "ethereum", "Chain the token lives on")
	alertCreateCmd.Flags().StringVar(&alertCreateAddress, "address", "", "Token contract address")
	alertCreateCmd.Flags().Float64Var(&alertCreateTarget, "target", 0, "Target price in USD")
	alertCreateCmd.Flags().StringVar(&alertCreateCondition, "condition", "above", "Trigger direction: above or below")
	alertCreateCmd.Flags().StringVar(&alertCreateEmail, "email", "", "Owner email address")

	alertListCmd.Flags().StringVar(&alertListEmail, "email", "", "Owner email address")
	alertListCmd.Flags().IntVar(&alertListPage, "page", 1, "Page number")
	alertListCmd.Flags().IntVar(&alertListLimit, "limit", 20, "Alerts per page")

	alertDisableCmd.Flags().Int64Var(&alertDisableID, "id", 0, "Alert id")

	alertCmd.AddCommand(alertCreateCmd)
	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertDisableCmd)
}
