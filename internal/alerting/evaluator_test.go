package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/chains"
	"pricewatch/internal/config"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

const (
	testChain = "ethereum"
	wethAddr  = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	daiAddr   = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
)

type fakeAlertStore struct {
	alerts      []storage.UserPriceAlert
	nextID      int64
	deactivated []int64
	countByMail map[string]int64
}

func (f *fakeAlertStore) CreateUserAlert(_ context.Context, alert storage.UserPriceAlert) (storage.UserPriceAlert, error) {
	f.nextID++
	alert.ID = f.nextID
	alert.Active = true
	f.alerts = append(f.alerts, alert)
	return alert, nil
}

func (f *fakeAlertStore) ListActiveUserAlerts(context.Context) ([]storage.UserPriceAlert, error) {
	active := make([]storage.UserPriceAlert, 0)
	for _, alert := range f.alerts {
		if alert.Active {
			active = append(active, alert)
		}
	}
	return active, nil
}

func (f *fakeAlertStore) ListUserAlertsByEmail(_ context.Context, email string, _, _ int) ([]storage.UserPriceAlert, error) {
	alerts := make([]storage.UserPriceAlert, 0)
	for _, alert := range f.alerts {
		if alert.UserEmail == email && alert.Active {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

func (f *fakeAlertStore) CountActiveUserAlerts(_ context.Context, email string) (int64, error) {
	if f.countByMail != nil {
		return f.countByMail[email], nil
	}
	var count int64
	for _, alert := range f.alerts {
		if alert.UserEmail == email && alert.Active {
			count++
		}
	}
	return count, nil
}

func (f *fakeAlertStore) DeactivateUserAlert(_ context.Context, id int64) (bool, error) {
	for i, alert := range f.alerts {
		if alert.ID == id && alert.Active {
			f.alerts[i].Active = false
			f.deactivated = append(f.deactivated, id)
			return true, nil
		}
	}
	return false, nil
}

type fakeSignificantStore struct {
	config   storage.SignificantAlertConfig
	advanced []time.Time
}

func (f *fakeSignificantStore) GetOrCreateSignificantConfig(_ context.Context, chain string, defaults storage.SignificantAlertDefaults) (storage.SignificantAlertConfig, error) {
	if f.config.ID == 0 {
		f.config = storage.SignificantAlertConfig{
			ID:               1,
			Chain:            chain,
			ThresholdPct:     defaults.ThresholdPct,
			TimeFrameMinutes: defaults.TimeFrameMinutes,
			RecipientEmail:   defaults.RecipientEmail,
		}
	}
	return f.config, nil
}

func (f *fakeSignificantStore) AdvanceLastChecked(_ context.Context, _ int64, at time.Time) error {
	f.advanced = append(f.advanced, at)
	return nil
}

type fakePriceSource struct {
	latest  map[string]storage.PriceObservation
	current map[string]decimal.Decimal
	past    map[string]decimal.Decimal
}

func (f *fakePriceSource) GetLatestPrice(_ context.Context, _, address string) (storage.PriceObservation, error) {
	obs, ok := f.latest[address]
	if !ok {
		return storage.PriceObservation{}, tracker.ErrNoPriceData
	}
	return obs, nil
}

func (f *fakePriceSource) GetChainPrices(context.Context, string) (map[string]decimal.Decimal, error) {
	return f.current, nil
}

func (f *fakePriceSource) GetChainPricesAtTime(context.Context, string, time.Time) (map[string]decimal.Decimal, error) {
	return f.past, nil
}

type fakeNotifier struct {
	userNotes []UserAlertNotification
	digests   []SignificantNotification
	userErr   error
	sigErr    error
}

func (f *fakeNotifier) SendUserPriceAlert(_ context.Context, note UserAlertNotification) error {
	if f.userErr != nil {
		return f.userErr
	}
	f.userNotes = append(f.userNotes, note)
	return nil
}

func (f *fakeNotifier) SendSignificantPriceChangeAlert(_ context.Context, note SignificantNotification) error {
	if f.sigErr != nil {
		return f.sigErr
	}
	f.digests = append(f.digests, note)
	return nil
}

func evaluatorConfig(advanceOnEmpty bool) *config.Config {
	return &config.Config{
		Alerts: config.AlertsConfig{
			User: config.UserAlertsConfig{Interval: time.Minute, MaxPerUser: 10},
			Significant: config.SignificantAlertsConfig{
				Interval:         5 * time.Minute,
				DefaultThreshold: 3.0,
				DefaultTimeFrame: 60,
				RecipientEmail:   "ops@example.com",
				AdvanceOnEmpty:   advanceOnEmpty,
			},
		},
	}
}

func testRegistry() *chains.Registry {
	return chains.NewRegistry(map[string]config.ChainConfig{
		testChain: {HexCode: "0x1", NativeToken: wethAddr},
	})
}

func newEvaluator(alerts *fakeAlertStore, configs *fakeSignificantStore, prices *fakePriceSource, notifier Notifier, advanceOnEmpty bool) *Evaluator {
	return NewEvaluator(evaluatorConfig(advanceOnEmpty), alerts, configs, prices, notifier, testRegistry(), zerolog.Nop())
}

func TestTriggeredBoundaries(t *testing.T) {
	above := storage.UserPriceAlert{Condition: storage.ConditionAbove, TargetPrice: decimal.NewFromInt(10)}
	assert.True(t, Triggered(above, decimal.NewFromInt(10)))
	assert.True(t, Triggered(above, decimal.NewFromFloat(10.01)))
	assert.False(t, Triggered(above, decimal.NewFromFloat(9.99)))

	below := storage.UserPriceAlert{Condition: storage.ConditionBelow, TargetPrice: decimal.NewFromInt(10)}
	assert.True(t, Triggered(below, decimal.NewFromInt(10)))
	assert.True(t, Triggered(below, decimal.NewFromFloat(9.99)))
	assert.False(t, Triggered(below, decimal.NewFromFloat(10.01)))
}

func TestEvaluateUserAlertsNotifiesThenDeactivates(t *testing.T) {
	alerts := &fakeAlertStore{}
	alert, err := alerts.CreateUserAlert(context.Background(), storage.UserPriceAlert{
		TokenAddress: wethAddr,
		Chain:        testChain,
		TargetPrice:  decimal.NewFromInt(100),
		Condition:    storage.ConditionAbove,
		UserEmail:    "user@example.com",
	})
	require.NoError(t, err)

	prices := &fakePriceSource{latest: map[string]storage.PriceObservation{
		wethAddr: {USDPrice: decimal.NewFromInt(100)},
	}}
	notifier := &fakeNotifier{}
	eval := newEvaluator(alerts, &fakeSignificantStore{}, prices, notifier, true)

	require.NoError(t, eval.EvaluateUserAlerts(context.Background()))

	require.Len(t, notifier.userNotes, 1)
	assert.Equal(t, "user@example.com", notifier.userNotes[0].RecipientEmail)
	assert.Equal(t, "100", notifier.userNotes[0].CurrentPrice.String())
	assert.Equal(t, []int64{alert.ID}, alerts.deactivated)

	// A second pass sees no active alerts; the alert fires once.
	require.NoError(t, eval.EvaluateUserAlerts(context.Background()))
	assert.Len(t, notifier.userNotes, 1)
}

func TestEvaluateUserAlertsKeepsAlertOnNotifyFailure(t *testing.T) {
	alerts := &fakeAlertStore{}
	_, err := alerts.CreateUserAlert(context.Background(), storage.UserPriceAlert{
		TokenAddress: wethAddr,
		Chain:        testChain,
		TargetPrice:  decimal.NewFromInt(100),
		Condition:    storage.ConditionAbove,
		UserEmail:    "user@example.com",
	})
	require.NoError(t, err)

	prices := &fakePriceSource{latest: map[string]storage.PriceObservation{
		wethAddr: {USDPrice: decimal.NewFromInt(150)},
	}}
	notifier := &fakeNotifier{userErr: errors.New("relay down")}
	eval := newEvaluator(alerts, &fakeSignificantStore{}, prices, notifier, true)

	require.NoError(t, eval.EvaluateUserAlerts(context.Background()))

	assert.Empty(t, alerts.deactivated)
	active, err := alerts.ListActiveUserAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEvaluateUserAlertsSkipsTokensWithoutPrices(t *testing.T) {
	alerts := &fakeAlertStore{}
	_, err := alerts.CreateUserAlert(context.Background(), storage.UserPriceAlert{
		TokenAddress: wethAddr,
		Chain:        testChain,
		TargetPrice:  decimal.NewFromInt(100),
		Condition:    storage.ConditionBelow,
		UserEmail:    "user@example.com",
	})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	eval := newEvaluator(alerts, &fakeSignificantStore{}, &fakePriceSource{}, notifier, true)

	require.NoError(t, eval.EvaluateUserAlerts(context.Background()))
	assert.Empty(t, notifier.userNotes)
	assert.Empty(t, alerts.deactivated)
}

func TestEvaluateSignificantChangesBatchesIntoOneDigest(t *testing.T) {
	prices := &fakePriceSource{
		current: map[string]decimal.Decimal{
			wethAddr: decimal.NewFromInt(105),
			daiAddr:  decimal.NewFromInt(101),
		},
		past: map[string]decimal.Decimal{
			wethAddr: decimal.NewFromInt(100),
			daiAddr:  decimal.NewFromInt(100),
		},
	}
	notifier := &fakeNotifier{}
	configs := &fakeSignificantStore{}
	eval := newEvaluator(&fakeAlertStore{}, configs, prices, notifier, true)

	require.NoError(t, eval.EvaluateSignificantChanges(context.Background()))

	require.Len(t, notifier.digests, 1)
	digest := notifier.digests[0]
	assert.Equal(t, "ops@example.com", digest.RecipientEmail)
	assert.Equal(t, testChain, digest.Chain)
	require.Len(t, digest.Moves, 1)
	assert.Equal(t, wethAddr, digest.Moves[0].TokenAddress)
	assert.Equal(t, "5", digest.Moves[0].PercentChange.String())
	assert.Len(t, configs.advanced, 1)
}

func TestEvaluateSignificantChangesSkipsTokensWithoutHistory(t *testing.T) {
	prices := &fakePriceSource{
		current: map[string]decimal.Decimal{wethAddr: decimal.NewFromInt(200)},
		past:    map[string]decimal.Decimal{},
	}
	notifier := &fakeNotifier{}
	configs := &fakeSignificantStore{}
	eval := newEvaluator(&fakeAlertStore{}, configs, prices, notifier, true)

	require.NoError(t, eval.EvaluateSignificantChanges(context.Background()))

	assert.Empty(t, notifier.digests)
	// advance_on_empty still moves the watermark.
	assert.Len(t, configs.advanced, 1)
}

func TestEvaluateSignificantChangesHoldsWatermarkWhenConfigured(t *testing.T) {
	prices := &fakePriceSource{
		current: map[string]decimal.Decimal{},
		past:    map[string]decimal.Decimal{},
	}
	configs := &fakeSignificantStore{}
	eval := newEvaluator(&fakeAlertStore{}, configs, prices, &fakeNotifier{}, false)

	require.NoError(t, eval.EvaluateSignificantChanges(context.Background()))
	assert.Empty(t, configs.advanced)
}

func TestEvaluateSignificantChangesHoldsWatermarkOnDeliveryFailure(t *testing.T) {
	prices := &fakePriceSource{
		current: map[string]decimal.Decimal{wethAddr: decimal.NewFromInt(110)},
		past:    map[string]decimal.Decimal{wethAddr: decimal.NewFromInt(100)},
	}
	configs := &fakeSignificantStore{}
	notifier := &fakeNotifier{sigErr: errors.New("relay down")}
	eval := newEvaluator(&fakeAlertStore{}, configs, prices, notifier, true)

	require.NoError(t, eval.EvaluateSignificantChanges(context.Background()))
	assert.Empty(t, configs.advanced)
}
