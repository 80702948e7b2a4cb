package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/config"
	"pricewatch/internal/storage"
)

func mailConfig(baseURL string) config.NotifierConfig {
	return config.NotifierConfig{
		Enabled:        true,
		BaseURL:        baseURL,
		APIKey:         "relay-key",
		FromAddress:    "alerts@pricewatch.local",
		RequestTimeout: time.Second,
	}
}

func TestMailNotifierSendsUserAlert(t *testing.T) {
	var received mailPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	notifier := NewMailNotifier(mailConfig(srv.URL), zerolog.Nop())
	note := UserAlertNotification{
		RecipientEmail: "user@example.com",
		TokenAddress:   wethAddr,
		Chain:          testChain,
		Condition:      storage.ConditionAbove,
		TargetPrice:    decimal.NewFromInt(5000),
		CurrentPrice:   decimal.NewFromInt(5100),
		TriggeredAt:    time.Now(),
	}

	require.NoError(t, notifier.SendUserPriceAlert(context.Background(), note))

	assert.Equal(t, "Bearer relay-key", auth)
	assert.Equal(t, "alerts@pricewatch.local", received.From)
	assert.Equal(t, "user@example.com", received.To)
	assert.Contains(t, received.Subject, "above")
	assert.Contains(t, received.Text, wethAddr)
	assert.Contains(t, received.Text, "5100")
}

func TestMailNotifierSendsDigestWithAllMoves(t *testing.T) {
	var received mailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	notifier := NewMailNotifier(mailConfig(srv.URL), zerolog.Nop())
	note := SignificantNotification{
		RecipientEmail: "ops@example.com",
		Chain:          testChain,
		ThresholdPct:   decimal.NewFromInt(3),
		TimeFrame:      time.Hour,
		CheckedAt:      time.Now(),
		Moves: []SignificantMove{
			{TokenAddress: wethAddr, OldPrice: decimal.NewFromInt(100), NewPrice: decimal.NewFromInt(105), PercentChange: decimal.NewFromInt(5)},
			{TokenAddress: daiAddr, OldPrice: decimal.NewFromInt(1), NewPrice: decimal.NewFromFloat(0.95), PercentChange: decimal.NewFromInt(-5)},
		},
	}

	require.NoError(t, notifier.SendSignificantPriceChangeAlert(context.Background(), note))

	assert.Contains(t, received.Subject, "2 tokens")
	assert.Contains(t, received.Text, wethAddr)
	assert.Contains(t, received.Text, daiAddr)
}

func TestMailNotifierRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewMailNotifier(mailConfig(srv.URL), zerolog.Nop())
	err := notifier.SendUserPriceAlert(context.Background(), UserAlertNotification{RecipientEmail: "user@example.com"})
	assert.Error(t, err)
}

func TestNewNotifierFallsBackToLogWhenDisabled(t *testing.T) {
	notifier := NewNotifier(config.NotifierConfig{Enabled: false}, zerolog.Nop())
	_, ok := notifier.(*LogNotifier)
	assert.True(t, ok)

	require.NoError(t, notifier.SendUserPriceAlert(context.Background(), UserAlertNotification{}))
	require.NoError(t, notifier.SendSignificantPriceChangeAlert(context.Background(), SignificantNotification{}))
}
