package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/chains"
	"pricewatch/internal/config"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

var (
	// ErrAlertLimitReached means the user already holds the maximum
	// number of active alerts.
	ErrAlertLimitReached = errors.New("active alert limit reached")

	// ErrInvalidAlert means the request failed validation.
	ErrInvalidAlert = errors.New("invalid alert request")
)

// TokenSource is the slice of the tracker the alert service needs to make
// a token trackable before accepting an alert on it.
type TokenSource interface {
	GetLatestPrice(ctx context.Context, chain, address string) (storage.PriceObservation, error)
	CreateToken(ctx context.Context, chain, address string) (storage.Token, error)
}

// CreateAlertRequest is a user's standing target-price request.
type CreateAlertRequest struct {
	Chain        string
	TokenAddress string
	TargetPrice  decimal.Decimal
	Condition    storage.AlertCondition
	UserEmail    string
}

// Service manages the lifecycle of user price alerts.
type Service struct {
	alerts     storage.UserAlertStore
	tokens     TokenSource
	registry   *chains.Registry
	maxPerUser int
	logger     zerolog.Logger
}

// NewService wires alert management.
func NewService(cfg *config.Config, alerts storage.UserAlertStore, tokens TokenSource, registry *chains.Registry, logger zerolog.Logger) *Service {
	return &Service{
		alerts:     alerts,
		tokens:     tokens,
		registry:   registry,
		maxPerUser: cfg.Alerts.User.MaxPerUser,
		logger:     logger.With().Str("component", "alerts").Logger(),
	}
}

// CreateUserAlert validates and stores a new alert. Unknown tokens are
// registered explicitly so the next tracking pass picks them up; the alert
// itself is accepted immediately.
func (s *Service) CreateUserAlert(ctx context.Context, req CreateAlertRequest) (storage.UserPriceAlert, error) {
	if !req.Condition.Valid() {
		return storage.UserPriceAlert{}, fmt.Errorf("%w: condition must be above or below", ErrInvalidAlert)
	}
	if !req.TargetPrice.IsPositive() {
		return storage.UserPriceAlert{}, fmt.Errorf("%w: target price must be positive", ErrInvalidAlert)
	}
	if req.UserEmail == "" {
		return storage.UserPriceAlert{}, fmt.Errorf("%w: user email is required", ErrInvalidAlert)
	}
	if _, err := s.registry.HexCode(req.Chain); err != nil {
		return storage.UserPriceAlert{}, err
	}
	address, err := chains.NormalizeAddress(req.TokenAddress)
	if err != nil {
		return storage.UserPriceAlert{}, err
	}

	count, err := s.alerts.CountActiveUserAlerts(ctx, req.UserEmail)
	if err != nil {
		return storage.UserPriceAlert{}, fmt.Errorf("count active alerts: %w", err)
	}
	if count >= int64(s.maxPerUser) {
		return storage.UserPriceAlert{}, fmt.Errorf("%w: %d active alerts", ErrAlertLimitReached, count)
	}

	if _, err := s.tokens.GetLatestPrice(ctx, req.Chain, address); err != nil {
		if !errors.Is(err, tracker.ErrNoPriceData) {
			return storage.UserPriceAlert{}, fmt.Errorf("check token: %w", err)
		}
		if _, err := s.tokens.CreateToken(ctx, req.Chain, address); err != nil {
			return storage.UserPriceAlert{}, fmt.Errorf("register token: %w", err)
		}
		s.logger.Info().
			Str("chain", req.Chain).
			Str("address", address).
			Msg("token registered for new alert")
	}

	alert, err := s.alerts.CreateUserAlert(ctx, storage.UserPriceAlert{
		TokenAddress: address,
		Chain:        req.Chain,
		TargetPrice:  req.TargetPrice,
		Condition:    req.Condition,
		UserEmail:    req.UserEmail,
		Active:       true,
	})
	if err != nil {
		return storage.UserPriceAlert{}, fmt.Errorf("create alert: %w", err)
	}

	s.logger.Info().
		Int64("alert_id", alert.ID).
		Str("address", address).
		Str("condition", string(req.Condition)).
		Str("target", req.TargetPrice.String()).
		Msg("user alert created")
	return alert, nil
}

// ListUserAlerts returns a user's alerts, newest first.
func (s *Service) ListUserAlerts(ctx context.Context, email string, page, limit int) ([]storage.UserPriceAlert, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return s.alerts.ListUserAlertsByEmail(ctx, email, page, limit)
}

// DeactivateAlert turns an alert off. The bool reports whether this call
// performed the transition.
func (s *Service) DeactivateAlert(ctx context.Context, id int64) (bool, error) {
	return s.alerts.DeactivateUserAlert(ctx, id)
}
