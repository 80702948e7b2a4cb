package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/cache"
	"pricewatch/internal/config"
	"pricewatch/internal/provider"
	"pricewatch/internal/storage"
)

var (
	// ErrNoPriceData is returned when a token has no stored observations
	// or is not known to the store at all.
	ErrNoPriceData = errors.New("no price data for token")

	// ErrTokenNotFound is returned by history lookups for tokens the
	// store has never seen.
	ErrTokenNotFound = errors.New("token not found")
)

// PriceProvider is the slice of the upstream API client the tracker needs.
type PriceProvider interface {
	TokenPrice(ctx context.Context, chain, address string) (*provider.PriceQuote, error)
	TokenPrices(ctx context.Context, chain string, addresses []string) ([]provider.BatchResult, error)
	TokenMetadata(ctx context.Context, chain, address string) (*provider.Metadata, error)
}

// TrackResult tallies one tracking pass.
type TrackResult struct {
	Success int
	Failed  int
}

// Service ingests prices for tracked tokens and serves price lookups
// through the cache.
type Service struct {
	provider PriceProvider
	tokens   storage.TokenStore
	prices   storage.PriceStore
	cache    cache.Store
	logger   zerolog.Logger

	threshold   decimal.Decimal
	lookback    time.Duration
	priceTTL    time.Duration
	metadataTTL time.Duration
	metaTimeout time.Duration

	pool   pond.Pool
	events chan SignificantChange

	now func() time.Time
}

// NewService wires the tracker against its stores and provider. The events
// channel is buffered; slow consumers cause events to be dropped with a
// warning rather than stalling ingestion.
func NewService(cfg *config.Config, p PriceProvider, tokens storage.TokenStore, prices storage.PriceStore, cacheStore cache.Store, logger zerolog.Logger) *Service {
	return &Service{
		provider:    p,
		tokens:      tokens,
		prices:      prices,
		cache:       cacheStore,
		logger:      logger.With().Str("component", "tracker").Logger(),
		threshold:   decimal.NewFromFloat(cfg.Tracker.SignificantChangeThreshold),
		lookback:    time.Hour,
		priceTTL:    cfg.Cache.PriceTTL,
		metadataTTL: cfg.Cache.MetadataTTL(),
		metaTimeout: cfg.Provider.RequestTimeout,
		pool:        pond.NewPool(cfg.Tracker.MaxWorkers),
		events:      make(chan SignificantChange, cfg.Tracker.EventBuffer),
		now:         time.Now,
	}
}

// Events exposes the significant-change stream.
func (s *Service) Events() <-chan SignificantChange {
	return s.events
}

// Close drains the worker pool. No events are emitted afterwards.
func (s *Service) Close() {
	s.pool.StopAndWait()
	close(s.events)
}

// TrackPrices runs one ingestion pass over the given addresses. Each token
// is processed independently on the worker pool; a single failure never
// aborts the pass.
func (s *Service) TrackPrices(ctx context.Context, chain string, addresses []string) TrackResult {
	var success, failed atomic.Int64

	var wg sync.WaitGroup
	for _, addr := range addresses {
		addr := addr
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			if err := s.trackToken(ctx, chain, addr); err != nil {
				failed.Add(1)
				s.logger.Error().Err(err).
					Str("chain", chain).
					Str("address", addr).
					Msg("tracking failed for token")
				return
			}
			success.Add(1)
		})
	}
	wg.Wait()

	res := TrackResult{Success: int(success.Load()), Failed: int(failed.Load())}
	s.logger.Info().
		Str("chain", chain).
		Int("success", res.Success).
		Int("failed", res.Failed).
		Msg("tracking pass complete")
	return res
}

func (s *Service) trackToken(ctx context.Context, chain, address string) error {
	token, err := s.tokens.EnsureToken(ctx, address, chain)
	if err != nil {
		return fmt.Errorf("ensure token: %w", err)
	}

	quote, err := s.provider.TokenPrice(ctx, chain, address)
	if err != nil {
		if errors.Is(err, provider.ErrNoLiquidity) {
			s.logger.Info().
				Str("chain", chain).
				Str("address", address).
				Msg("no liquidity, skipping")
			return nil
		}
		return fmt.Errorf("fetch price: %w", err)
	}

	obs, err := s.prices.SavePrice(ctx, storage.PriceObservation{
		TokenID:          token.ID,
		USDPrice:         quote.USDPrice,
		Timestamp:        quote.QuotedAt,
		PercentChange1h:  quote.PercentChange1h,
		PercentChange24h: quote.PercentChange24h,
	})
	if err != nil {
		return fmt.Errorf("save price: %w", err)
	}

	if err := cache.Put(ctx, s.cache, cache.PriceKey(chain, address), obs, s.priceTTL); err != nil {
		s.logger.Debug().Err(err).Str("address", address).Msg("cache refresh failed")
	}

	s.compareLookback(ctx, token, chain, obs)
	s.refreshMetadata(token, chain, address)
	return nil
}

// compareLookback checks the new observation against the one recorded at
// least one lookback window ago and emits a significant-change event when
// the move clears the threshold. Nothing is emitted when no observation is
// old enough yet.
func (s *Service) compareLookback(ctx context.Context, token storage.Token, chain string, obs storage.PriceObservation) {
	old, err := s.prices.FindPriceAtOrBefore(ctx, token.ID, s.now().Add(-s.lookback))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Str("address", token.Address).Msg("lookback query failed")
		}
		return
	}

	change, ok := PercentChange(old.USDPrice, obs.USDPrice)
	if !ok {
		s.logger.Warn().Str("address", token.Address).Msg("zero lookback price, skipping comparison")
		return
	}
	if change.Abs().LessThan(s.threshold) {
		return
	}

	ev := SignificantChange{
		TokenID:       token.ID,
		TokenAddress:  token.Address,
		Chain:         chain,
		OldPrice:      old.USDPrice,
		NewPrice:      obs.USDPrice,
		PercentChange: change,
		ObservedAt:    obs.Timestamp,
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().
			Str("address", token.Address).
			Str("change", change.StringFixed(2)).
			Msg("event buffer full, dropping significant change")
	}
}

// refreshMetadata updates the token's symbol, name and decimals in the
// background. It runs detached from the ingestion context so a slow
// metadata endpoint cannot delay the pass.
func (s *Service) refreshMetadata(token storage.Token, chain, address string) {
	s.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.metaTimeout)
		defer cancel()

		meta, err := cache.Fetch(ctx, s.cache, s.logger, cache.MetadataKey(chain, address), s.metadataTTL, func(ctx context.Context) (*provider.Metadata, error) {
			return s.provider.TokenMetadata(ctx, chain, address)
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("address", address).Msg("metadata refresh failed")
			return
		}
		if err := s.tokens.UpdateTokenMetadata(ctx, token.ID, meta.Symbol, meta.Name, meta.Decimals); err != nil {
			s.logger.Debug().Err(err).Str("address", address).Msg("metadata update failed")
		}
	})
}

// GetLatestPrice returns the most recent stored observation for a token.
// Lookups are cache-fronted; tokens that were never ingested yield
// ErrNoPriceData. No token row is created implicitly.
func (s *Service) GetLatestPrice(ctx context.Context, chain, address string) (storage.PriceObservation, error) {
	return cache.Fetch(ctx, s.cache, s.logger, cache.PriceKey(chain, address), s.priceTTL, func(ctx context.Context) (storage.PriceObservation, error) {
		token, err := s.tokens.FindToken(ctx, address, chain)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.PriceObservation{}, ErrNoPriceData
			}
			return storage.PriceObservation{}, err
		}
		obs, err := s.prices.FindLatestPrice(ctx, token.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.PriceObservation{}, ErrNoPriceData
			}
			return storage.PriceObservation{}, err
		}
		return obs, nil
	})
}

// GetHourlyPrices returns one observation per hour over the last 24 hours,
// newest first, paginated.
func (s *Service) GetHourlyPrices(ctx context.Context, chain, address string, page, limit int) (storage.PricePage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 24
	}
	key := cache.HourlyKey(chain, address, page, limit)
	return cache.Fetch(ctx, s.cache, s.logger, key, s.priceTTL, func(ctx context.Context) (storage.PricePage, error) {
		token, err := s.tokens.FindToken(ctx, address, chain)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.PricePage{}, ErrTokenNotFound
			}
			return storage.PricePage{}, err
		}
		to := s.now()
		return s.prices.FindHourlyPrices(ctx, token.ID, to.Add(-24*time.Hour), to, page, limit)
	})
}

// CreateToken registers a token explicitly, resolving its metadata from the
// provider. Unknown upstream tokens surface provider.ErrTokenNotFound.
func (s *Service) CreateToken(ctx context.Context, chain, address string) (storage.Token, error) {
	meta, err := cache.Fetch(ctx, s.cache, s.logger, cache.MetadataKey(chain, address), s.metadataTTL, func(ctx context.Context) (*provider.Metadata, error) {
		return s.provider.TokenMetadata(ctx, chain, address)
	})
	if err != nil {
		return storage.Token{}, fmt.Errorf("resolve metadata: %w", err)
	}

	token, err := s.tokens.EnsureToken(ctx, address, chain)
	if err != nil {
		return storage.Token{}, err
	}
	if err := s.tokens.UpdateTokenMetadata(ctx, token.ID, meta.Symbol, meta.Name, meta.Decimals); err != nil {
		return storage.Token{}, fmt.Errorf("update metadata: %w", err)
	}
	return s.tokens.FindToken(ctx, address, chain)
}

// GetChainPrices fetches live prices for every token tracked on a chain in
// a single batch call. Tokens the provider cannot quote are skipped.
func (s *Service) GetChainPrices(ctx context.Context, chain string) (map[string]decimal.Decimal, error) {
	tokens, err := s.tokens.ListTokensByChain(ctx, chain)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	addresses := make([]string, 0, len(tokens))
	for _, t := range tokens {
		addresses = append(addresses, t.Address)
	}
	results, err := s.provider.TokenPrices(ctx, chain, addresses)
	if err != nil {
		return nil, fmt.Errorf("batch price fetch: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(results))
	for _, r := range results {
		if r.Err != nil {
			s.logger.Debug().Err(r.Err).Str("address", r.Address).Msg("no quote in batch")
			continue
		}
		prices[r.Address] = r.Quote.USDPrice
	}
	return prices, nil
}

// GetChainPricesAtTime reconstructs per-token prices as of a past instant
// from stored observations. Tokens without an observation old enough are
// omitted.
func (s *Service) GetChainPricesAtTime(ctx context.Context, chain string, at time.Time) (map[string]decimal.Decimal, error) {
	tokens, err := s.tokens.ListTokensByChain(ctx, chain)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(tokens))
	for _, t := range tokens {
		obs, err := s.prices.FindPriceAtOrBefore(ctx, t.ID, at)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		prices[t.Address] = obs.USDPrice
	}
	return prices, nil
}
