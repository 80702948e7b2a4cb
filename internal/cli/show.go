package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	showChain   string
	showAddress string
	showLimit   int
	showHourly  bool
	showPage    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a token's recent price observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showAddress == "" {
			return errors.New("--address is required")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Chain:   showChain,
			Address: showAddress,
			Limit:   showLimit,
			Hourly:  showHourly,
			Page:    showPage,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showChain, "chain", "ethereum", "Chain the token lives on")
	showCmd.Flags().StringVar(&showAddress, "address", "", "Token contract address")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
	showCmd.Flags().BoolVar(&showHourly, "hourly", false, "Show one observation per hour over the last day")
	showCmd.Flags().IntVar(&showPage, "page", 1, "Page of hourly observations to display")
}
