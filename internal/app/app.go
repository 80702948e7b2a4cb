package app

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/alerting"
	"pricewatch/internal/cache"
	"pricewatch/internal/chains"
	"pricewatch/internal/config"
	"pricewatch/internal/ingest"
	"pricewatch/internal/provider"
	"pricewatch/internal/resilience"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRegistry() *chains.Registry {
	return chains.NewRegistry(a.Config.Chains)
}

func (a *App) newProvider(registry *chains.Registry) *provider.Client {
	limiter := resilience.NewLimiter(a.Config.RateLimit)
	retrier := resilience.NewRetrier(a.Config.Retry, a.Logger)
	return provider.New(provider.Options{
		BaseURL:   a.Config.Provider.BaseURL,
		APIKey:    a.Config.Provider.APIKey,
		Timeout:   a.Config.Provider.RequestTimeout,
		UserAgent: a.Config.Provider.UserAgent,
	}, registry, limiter, retrier, a.Logger)
}

func (a *App) newCache() (cache.Store, func()) {
	store := cache.NewStore(a.Config.Cache)
	closer := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return store, closer
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running tracking and alerting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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
	runner := ingest.NewRunner(a.Config, registry, trk, store, a.Logger)
	notifier := alerting.NewNotifier(a.Config.Notifier, a.Logger)
	evaluator := alerting.NewEvaluator(a.Config, store, store, trk, notifier, registry, a.Logger)

	if err := runner.Warm(ctx); err != nil {
		return err
	}

	a.Logger.Info().Msg("starting price tracking service")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return evaluator.RunUserLoop(ctx) })
	g.Go(func() error { return evaluator.RunSignificantLoop(ctx) })
	g.Go(func() error {
		evaluator.DrainEvents(ctx, trk.Events())
		return nil
	})

	err = g.Wait()
	trk.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price tracking service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Chain   string
	Address string
	Limit   int
	Hourly  bool
	Page    int
}

// ExportOptions hold parameters for exporting a token's price history.
type ExportOptions struct {
	Chain     string
	Address   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// TrackOptions configure a one-shot tracking pass.
type TrackOptions struct {
	Chain string
}

// SimulateAlertOptions feed a synthetic price through the alert pipeline.
type SimulateAlertOptions struct {
	Chain        string
	Address      string
	TargetPrice  decimal.Decimal
	CurrentPrice decimal.Decimal
	Condition    storage.AlertCondition
	Email        string
}
