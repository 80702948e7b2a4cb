package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/chains"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// Show prints a token's most recent observations, or one observation per
// hour over the last day when the hourly mode is requested.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := a.newRegistry()
	if _, err := registry.HexCode(opts.Chain); err != nil {
		return err
	}
	address, err := chains.NormalizeAddress(opts.Address)
	if err != nil {
		return err
	}

	if opts.Hourly {
		return a.showHourly(ctx, store, registry, opts.Chain, address, opts.Page, opts.Limit)
	}

	token, err := store.FindToken(ctx, address, opts.Chain)
	if err != nil {
		return fmt.Errorf("find token %s on %s: %w", address, opts.Chain, err)
	}

	observations, err := store.ListRecentPrices(ctx, token.ID, opts.Limit)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%s (%s) on %s\n", token.Symbol, token.Address, token.Chain)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice USD\t1h %\t24h %")
	for _, obs := range observations {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			obs.Timestamp.UTC().Format(time.RFC3339),
			obs.USDPrice.String(),
			formatOptionalPct(obs.PercentChange1h),
			formatOptionalPct(obs.PercentChange24h),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showHourly(ctx context.Context, store *storage.Store, registry *chains.Registry, chain, address string, page, limit int) error {
	cacheStore, closeCache := a.newCache()
	defer closeCache()

	client := a.newProvider(registry)
	trk := tracker.NewService(a.Config, client, store, store, cacheStore, a.Logger)
	defer trk.Close()

	result, err := trk.GetHourlyPrices(ctx, chain, address, page, limit)
	if err != nil {
		return err
	}
	if len(result.Observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%s on %s, page %d (limit %d, %d observations total)\n",
		address, chain, result.Page, result.Limit, result.Total)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Hour (UTC)\tPrice USD\t1h %\t24h %")
	for _, obs := range result.Observations {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			obs.Timestamp.UTC().Format(time.RFC3339),
			obs.USDPrice.String(),
			formatOptionalPct(obs.PercentChange1h),
			formatOptionalPct(obs.PercentChange24h),
		)
	}

	writer.Flush()
	return nil
}

func formatOptionalPct(value *decimal.Decimal) string {
	if value == nil {
		return "-"
	}
	return value.StringFixed(2)
}
