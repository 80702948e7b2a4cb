package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/chains"
	"pricewatch/internal/config"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// ErrEmptyUniverse means no chain has any token to track.
var ErrEmptyUniverse = errors.New("no tokens configured for tracking")

// Universe returns the deduped, checksum-normalized set of addresses to
// track on a chain: the configured tracked tokens plus the chain's wrapped
// native token.
func Universe(registry *chains.Registry, chain string) ([]string, error) {
	tracked, err := registry.TrackedTokens(chain)
	if err != nil {
		return nil, err
	}
	native, err := registry.NativeToken(chain)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(tracked)+1)
	universe := make([]string, 0, len(tracked)+1)
	for _, addr := range append([]string{native}, tracked...) {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		universe = append(universe, addr)
	}
	return universe, nil
}

// Runner drives periodic ingestion passes over every configured chain.
type Runner struct {
	registry *chains.Registry
	tracker  *tracker.Service
	tokens   storage.TokenStore
	interval config.TrackerConfig
	logger   zerolog.Logger
}

// NewRunner wires the ingestion loop.
func NewRunner(cfg *config.Config, registry *chains.Registry, trk *tracker.Service, tokens storage.TokenStore, logger zerolog.Logger) *Runner {
	return &Runner{
		registry: registry,
		tracker:  trk,
		tokens:   tokens,
		interval: cfg.Tracker,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Warm registers every token in the universe before the first pass, so the
// store knows them even if their first quote fails. It fails when the
// universe is empty across all chains or the store is unreachable.
func (r *Runner) Warm(ctx context.Context) error {
	total := 0
	for _, chain := range r.registry.Names() {
		universe, err := Universe(r.registry, chain)
		if err != nil {
			return fmt.Errorf("resolve universe for %s: %w", chain, err)
		}
		for _, addr := range universe {
			if _, err := r.tokens.EnsureToken(ctx, addr, chain); err != nil {
				return fmt.Errorf("register %s on %s: %w", addr, chain, err)
			}
		}
		total += len(universe)
		r.logger.Info().
			Str("chain", chain).
			Int("tokens", len(universe)).
			Msg("token universe registered")
	}
	if total == 0 {
		return ErrEmptyUniverse
	}
	return nil
}

// RunOnce executes a single tracking pass over every chain. Chains run
// concurrently; a failing chain never aborts the others.
func (r *Runner) RunOnce(ctx context.Context) tracker.TrackResult {
	var total tracker.TrackResult
	results := make(chan tracker.TrackResult, len(r.registry.Names()))

	g, ctx := errgroup.WithContext(ctx)
	for _, chain := range r.registry.Names() {
		chain := chain
		g.Go(func() error {
			universe, err := Universe(r.registry, chain)
			if err != nil {
				r.logger.Error().Err(err).Str("chain", chain).Msg("skipping chain")
				return nil
			}
			results <- r.tracker.TrackPrices(ctx, chain, universe)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for res := range results {
		total.Success += res.Success
		total.Failed += res.Failed
	}
	return total
}

// Run blocks, executing an immediate pass and then one per configured
// interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Name:           "price-tracking",
		Interval:       r.interval.Interval,
		RunImmediately: true,
	}, r.logger)
	return sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		res := r.RunOnce(ctx)
		if res.Failed > 0 {
			return fmt.Errorf("tracking pass finished with %d failures", res.Failed)
		}
		return nil
	})
}
