package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pricewatch/internal/chains"
	"pricewatch/internal/storage"
)

// Export renders a token's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

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

	token, err := store.FindToken(ctx, address, opts.Chain)
	if err != nil {
		return fmt.Errorf("find token %s on %s: %w", address, opts.Chain, err)
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Tracker.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	observations, err := store.FindPricesInRange(ctx, token.ID, from, to)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Info().Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleObservations(observations, opts.MaxPoints)
	a.Logger.Info().
		Int("total", len(observations)).
		Int("exported", len(downsampled)).
		Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, token, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, token, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleObservations(observations []storage.PriceObservation, max int) []storage.PriceObservation {
	if max <= 0 || len(observations) <= max {
		return observations
	}

	result := make([]storage.PriceObservation, 0, max)
	step := float64(len(observations)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(observations) {
			idx = len(observations) - 1
		}
		result = append(result, observations[idx])
	}
	return result
}

func writePricesCSV(path string, token storage.Token, observations []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "token_address", "chain", "usd_price", "percent_change_1h", "percent_change_24h"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, obs := range observations {
		change1h := ""
		if obs.PercentChange1h != nil {
			change1h = obs.PercentChange1h.String()
		}
		change24h := ""
		if obs.PercentChange24h != nil {
			change24h = obs.PercentChange24h.String()
		}
		record := []string{
			obs.Timestamp.Format(time.RFC3339),
			token.Address,
			token.Chain,
			obs.USDPrice.String(),
			change1h,
			change24h,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePricesPNG(path string, token storage.Token, observations []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(observations))
	prices := make([]float64, len(observations))
	changes := make([]float64, len(observations))
	hasChanges := false

	for i, obs := range observations {
		x[i] = obs.Timestamp
		prices[i] = obs.USDPrice.InexactFloat64()
		if obs.PercentChange24h != nil {
			changes[i] = obs.PercentChange24h.InexactFloat64()
			hasChanges = true
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s (%s)", token.Symbol, token.Chain),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "USD Price",
				XValues: x,
				YValues: prices,
			},
		},
	}

	if hasChanges {
		graph.YAxisSecondary = chart.YAxis{
			Name:           "24h Change (%)",
			ValueFormatter: priceFormatter,
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "24h %",
			XValues: x,
			YValues: changes,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
