package cli

import (
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var trackChain string

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run a single tracking pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.TrackOptions{
			Chain: trackChain,
		}
		return getApp().Track(cmd.Context(), opts)
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackChain, "chain", "", "Restrict the pass to one chain (defaults to all)")
}
