package app

import (
	"context"
	"fmt"
	"os"

	"pricewatch/internal/ingest"
	"pricewatch/internal/tracker"
)

// Track runs a single tracking pass and exits. With a chain set, only that
// chain's universe is processed.
func (a *App) Track(ctx context.Context, opts TrackOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cacheStore, closeCache := a.newCache()
	defer closeCache()

	registry := a.newRegistry()
	client := a.newProvider(registry)
	trk := tracker.NewService(a.Config, client, store, store, cacheStore, a.Logger)
	defer trk.Close()

	var result tracker.TrackResult
	if opts.Chain != "" {
		universe, err := ingest.Universe(registry, opts.Chain)
		if err != nil {
			return err
		}
		if len(universe) == 0 {
			return ingest.ErrEmptyUniverse
		}
		result = trk.TrackPrices(ctx, opts.Chain, universe)
	} else {
		runner := ingest.NewRunner(a.Config, registry, trk, store, a.Logger)
		if err := runner.Warm(ctx); err != nil {
			return err
		}
		result = runner.RunOnce(ctx)
	}

	fmt.Fprintf(os.Stdout, "tracked %d tokens, %d failed\n", result.Success, result.Failed)
	return nil
}
