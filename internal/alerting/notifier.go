package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/config"
	"pricewatch/internal/storage"
)

// UserAlertNotification carries the context of a triggered target-price
// alert.
type UserAlertNotification struct {
	RecipientEmail string
	TokenAddress   string
	Chain          string
	Condition      storage.AlertCondition
	TargetPrice    decimal.Decimal
	CurrentPrice   decimal.Decimal
	TriggeredAt    time.Time
}

// SignificantMove is one token's entry in a chain-wide movement digest.
type SignificantMove struct {
	TokenAddress  string
	OldPrice      decimal.Decimal
	NewPrice      decimal.Decimal
	PercentChange decimal.Decimal
}

// SignificantNotification is the consolidated digest for one chain pass.
type SignificantNotification struct {
	RecipientEmail string
	Chain          string
	ThresholdPct   decimal.Decimal
	TimeFrame      time.Duration
	Moves          []SignificantMove
	CheckedAt      time.Time
}

// Notifier delivers alert messages.
type Notifier interface {
	SendUserPriceAlert(ctx context.Context, note UserAlertNotification) error
	SendSignificantPriceChangeAlert(ctx context.Context, note SignificantNotification) error
}

// NewNotifier builds the configured notifier, or a logging no-op when
// delivery is disabled.
func NewNotifier(cfg config.NotifierConfig, logger zerolog.Logger) Notifier {
	if !cfg.Enabled {
		return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
	}
	return NewMailNotifier(cfg, logger)
}

// MailNotifier delivers alerts as emails through an HTTP mail relay.
type MailNotifier struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
	logger  zerolog.Logger
}

// NewMailNotifier constructs the relay-backed notifier.
func NewMailNotifier(cfg config.NotifierConfig, logger zerolog.Logger) *MailNotifier {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &MailNotifier{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.FromAddress,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_mail").Logger(),
	}
}

type mailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendUserPriceAlert emails the owner of a triggered target-price alert.
func (n *MailNotifier) SendUserPriceAlert(ctx context.Context, note UserAlertNotification) error {
	subject := fmt.Sprintf("Price alert: %s is %s %s", shortAddress(note.TokenAddress), note.Condition, note.TargetPrice.String())
	if err := n.send(ctx, note.RecipientEmail, subject, renderUserAlert(note)); err != nil {
		return err
	}

	n.logger.Info().
		Str("recipient", note.RecipientEmail).
		Str("address", note.TokenAddress).
		Str("condition", string(note.Condition)).
		Msg("user price alert sent")
	return nil
}

// SendSignificantPriceChangeAlert emails one digest covering every token
// that moved past the threshold during the pass.
func (n *MailNotifier) SendSignificantPriceChangeAlert(ctx context.Context, note SignificantNotification) error {
	subject := fmt.Sprintf("Significant price moves on %s (%d tokens)", note.Chain, len(note.Moves))
	if err := n.send(ctx, note.RecipientEmail, subject, renderSignificant(note)); err != nil {
		return err
	}

	n.logger.Info().
		Str("recipient", note.RecipientEmail).
		Str("chain", note.Chain).
		Int("moves", len(note.Moves)).
		Msg("significant change digest sent")
	return nil
}

func (n *MailNotifier) send(ctx context.Context, to, subject, text string) error {
	body, err := json.Marshal(mailPayload{From: n.from, To: to, Subject: subject, Text: text})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	url := n.baseURL + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay status %d", resp.StatusCode)
	}
	return nil
}

func renderUserAlert(note UserAlertNotification) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Token: %s (%s)\n", note.TokenAddress, note.Chain))
	builder.WriteString(fmt.Sprintf("Condition: price %s %s USD\n", note.Condition, note.TargetPrice.String()))
	builder.WriteString(fmt.Sprintf("Current: %s USD\n", note.CurrentPrice.String()))
	builder.WriteString(fmt.Sprintf("Triggered: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))
	builder.WriteString("This alert has fired and is now deactivated.\n")
	return builder.String()
}

func renderSignificant(note SignificantNotification) string {
	builder := strings.Builder{}
	builder.WriteString("[Significant Price Changes]\n")
	builder.WriteString(fmt.Sprintf("Chain: %s\n", note.Chain))
	builder.WriteString(fmt.Sprintf("Window: last %s (threshold %s%%)\n", note.TimeFrame, note.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Checked: %s UTC\n\n", note.CheckedAt.UTC().Format(time.RFC3339)))
	for _, move := range note.Moves {
		builder.WriteString(fmt.Sprintf("%s: %s -> %s USD (%s%%)\n",
			move.TokenAddress, move.OldPrice.String(), move.NewPrice.String(), move.PercentChange.StringFixed(2)))
	}
	return builder.String()
}

func shortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + ".." + address[len(address)-4:]
}

// LogNotifier records alerts in the log instead of delivering them. Used
// when no relay is configured and by the simulate command.
type LogNotifier struct {
	logger zerolog.Logger
}

func (n *LogNotifier) SendUserPriceAlert(_ context.Context, note UserAlertNotification) error {
	n.logger.Info().
		Str("recipient", note.RecipientEmail).
		Str("address", note.TokenAddress).
		Str("condition", string(note.Condition)).
		Str("target", note.TargetPrice.String()).
		Str("current", note.CurrentPrice.String()).
		Msg("user price alert (delivery disabled)")
	return nil
}

func (n *LogNotifier) SendSignificantPriceChangeAlert(_ context.Context, note SignificantNotification) error {
	n.logger.Info().
		Str("chain", note.Chain).
		Int("moves", len(note.Moves)).
		Str("threshold", note.ThresholdPct.StringFixed(2)).
		Msg("significant change digest (delivery disabled)")
	return nil
}

var (
	_ Notifier = (*MailNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
