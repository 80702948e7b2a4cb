package alerting

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/chains"
	"pricewatch/internal/config"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// PriceSource is the slice of the tracker the evaluator reads prices from.
type PriceSource interface {
	GetLatestPrice(ctx context.Context, chain, address string) (storage.PriceObservation, error)
	GetChainPrices(ctx context.Context, chain string) (map[string]decimal.Decimal, error)
	GetChainPricesAtTime(ctx context.Context, chain string, at time.Time) (map[string]decimal.Decimal, error)
}

// Evaluator runs the two periodic alert checks: per-user target-price
// alerts and chain-wide significant-change digests.
type Evaluator struct {
	alerts   storage.UserAlertStore
	configs  storage.SignificantAlertStore
	prices   PriceSource
	notifier Notifier
	registry *chains.Registry
	cfg      config.AlertsConfig
	logger   zerolog.Logger

	now func() time.Time
}

// NewEvaluator wires the alert evaluation loops.
func NewEvaluator(cfg *config.Config, alerts storage.UserAlertStore, configs storage.SignificantAlertStore, prices PriceSource, notifier Notifier, registry *chains.Registry, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts:   alerts,
		configs:  configs,
		prices:   prices,
		notifier: notifier,
		registry: registry,
		cfg:      cfg.Alerts,
		logger:   logger.With().Str("component", "evaluator").Logger(),
		now:      time.Now,
	}
}

// Triggered reports whether an alert fires at the given price. Boundary
// prices fire: above means price >= target, below means price <= target.
func Triggered(alert storage.UserPriceAlert, price decimal.Decimal) bool {
	switch alert.Condition {
	case storage.ConditionAbove:
		return price.GreaterThanOrEqual(alert.TargetPrice)
	case storage.ConditionBelow:
		return price.LessThanOrEqual(alert.TargetPrice)
	default:
		return false
	}
}

// EvaluateUserAlerts checks every active alert against the latest stored
// price. A triggered alert is notified first and deactivated after; the
// deactivation claims the transition so the alert fires at most once even
// when evaluation overlaps.
func (e *Evaluator) EvaluateUserAlerts(ctx context.Context) error {
	alerts, err := e.alerts.ListActiveUserAlerts(ctx)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		obs, err := e.prices.GetLatestPrice(ctx, alert.Chain, alert.TokenAddress)
		if err != nil {
			if errors.Is(err, tracker.ErrNoPriceData) {
				continue
			}
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("price lookup failed")
			continue
		}
		if !Triggered(alert, obs.USDPrice) {
			continue
		}

		note := UserAlertNotification{
			RecipientEmail: alert.UserEmail,
			TokenAddress:   alert.TokenAddress,
			Chain:          alert.Chain,
			Condition:      alert.Condition,
			TargetPrice:    alert.TargetPrice,
			CurrentPrice:   obs.USDPrice,
			TriggeredAt:    e.now(),
		}
		if err := e.notifier.SendUserPriceAlert(ctx, note); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("notification failed, alert stays active")
			continue
		}

		claimed, err := e.alerts.DeactivateUserAlert(ctx, alert.ID)
		if err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("deactivation failed")
			continue
		}
		if claimed {
			e.logger.Info().
				Int64("alert_id", alert.ID).
				Str("address", alert.TokenAddress).
				Str("price", obs.USDPrice.String()).
				Msg("alert triggered and deactivated")
		}
	}
	return nil
}

// EvaluateSignificantChanges compares each chain's live prices against
// stored prices from one time frame ago and sends a single digest per
// chain covering every token past the threshold. The chain's watermark
// only advances once the pass for it completes; a failed digest delivery
// leaves it in place so the next pass retries.
func (e *Evaluator) EvaluateSignificantChanges(ctx context.Context) error {
	defaults := storage.SignificantAlertDefaults{
		ThresholdPct:     decimal.NewFromFloat(e.cfg.Significant.DefaultThreshold),
		TimeFrameMinutes: e.cfg.Significant.DefaultTimeFrame,
		RecipientEmail:   e.cfg.Significant.RecipientEmail,
	}

	for _, chain := range e.registry.Names() {
		if err := e.evaluateChain(ctx, chain, defaults); err != nil {
			e.logger.Error().Err(err).Str("chain", chain).Msg("significant change check failed")
		}
	}
	return nil
}

func (e *Evaluator) evaluateChain(ctx context.Context, chain string, defaults storage.SignificantAlertDefaults) error {
	cfgRow, err := e.configs.GetOrCreateSignificantConfig(ctx, chain, defaults)
	if err != nil {
		return err
	}

	now := e.now()
	timeFrame := time.Duration(cfgRow.TimeFrameMinutes) * time.Minute

	current, err := e.prices.GetChainPrices(ctx, chain)
	if err != nil {
		return err
	}
	past, err := e.prices.GetChainPricesAtTime(ctx, chain, now.Add(-timeFrame))
	if err != nil {
		return err
	}

	moves := make([]SignificantMove, 0)
	for address, cur := range current {
		old, ok := past[address]
		if !ok {
			continue
		}
		change, ok := tracker.PercentChange(old, cur)
		if !ok {
			continue
		}
		if change.Abs().LessThan(cfgRow.ThresholdPct) {
			continue
		}
		moves = append(moves, SignificantMove{
			TokenAddress:  address,
			OldPrice:      old,
			NewPrice:      cur,
			PercentChange: change,
		})
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].TokenAddress < moves[j].TokenAddress })

	if len(moves) == 0 {
		if e.cfg.Significant.AdvanceOnEmpty {
			return e.configs.AdvanceLastChecked(ctx, cfgRow.ID, now)
		}
		return nil
	}

	note := SignificantNotification{
		RecipientEmail: cfgRow.RecipientEmail,
		Chain:          chain,
		ThresholdPct:   cfgRow.ThresholdPct,
		TimeFrame:      timeFrame,
		Moves:          moves,
		CheckedAt:      now,
	}
	if err := e.notifier.SendSignificantPriceChangeAlert(ctx, note); err != nil {
		return err
	}
	return e.configs.AdvanceLastChecked(ctx, cfgRow.ID, now)
}

// RunUserLoop blocks, evaluating user alerts on the configured interval.
func (e *Evaluator) RunUserLoop(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Name:     "user-alerts",
		Interval: e.cfg.User.Interval,
	}, e.logger)
	return sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return e.EvaluateUserAlerts(ctx)
	})
}

// RunSignificantLoop blocks, evaluating chain-wide changes on the
// configured interval.
func (e *Evaluator) RunSignificantLoop(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Name:     "significant-changes",
		Interval: e.cfg.Significant.Interval,
	}, e.logger)
	return sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return e.EvaluateSignificantChanges(ctx)
	})
}

// DrainEvents logs the tracker's significant-change stream until it closes
// or ctx is cancelled. The polling digest handles delivery; the stream
// gives operators an immediate trace of each move.
func (e *Evaluator) DrainEvents(ctx context.Context, events <-chan tracker.SignificantChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.logger.Info().
				Str("chain", ev.Chain).
				Str("address", ev.TokenAddress).
				Str("old", ev.OldPrice.String()).
				Str("new", ev.NewPrice.String()).
				Str("change_pct", ev.PercentChange.StringFixed(2)).
				Msg("significant price move observed")
		}
	}
}
