package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertUserAlertSQL = `INSERT INTO user_price_alerts (
        token_address,
        chain,
        target_price,
        condition,
        user_email
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, token_address, chain, target_price, condition, user_email, is_active, created_at, updated_at;`

	listActiveUserAlertsSQL = `SELECT id, token_address, chain, target_price, condition, user_email, is_active, created_at, updated_at
    FROM user_price_alerts
    WHERE is_active
    ORDER BY id;`

	listUserAlertsByEmailSQL = `SELECT id, token_address, chain, target_price, condition, user_email, is_active, created_at, updated_at
    FROM user_price_alerts
    WHERE user_email = $1 AND is_active
    ORDER BY id
    LIMIT $2 OFFSET $3;`

	countActiveUserAlertsSQL = `SELECT COUNT(*)
    FROM user_price_alerts
    WHERE user_email = $1 AND is_active;`

	deactivateUserAlertSQL = `UPDATE user_price_alerts
    SET is_active = FALSE, updated_at = $2
    WHERE id = $1 AND is_active;`

	selectSignificantConfigSQL = `SELECT id, chain, threshold_pct, time_frame_minutes, recipient_email, last_checked_at, created_at, updated_at
    FROM significant_price_alerts
    WHERE chain = $1;`

	insertSignificantConfigSQL = `INSERT INTO significant_price_alerts (
        chain,
        threshold_pct,
        time_frame_minutes,
        recipient_email,
        last_checked_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, chain, threshold_pct, time_frame_minutes, recipient_email, last_checked_at, created_at, updated_at;`

	advanceLastCheckedSQL = `UPDATE significant_price_alerts
    SET last_checked_at = GREATEST(last_checked_at, $2), updated_at = $2
    WHERE id = $1;`
)

// UserAlertStore defines operations for user target-price alerts.
type UserAlertStore interface {
	CreateUserAlert(ctx context.Context, alert UserPriceAlert) (UserPriceAlert, error)
	ListActiveUserAlerts(ctx context.Context) ([]UserPriceAlert, error)
	ListUserAlertsByEmail(ctx context.Context, email string, page, limit int) ([]UserPriceAlert, error)
	CountActiveUserAlerts(ctx context.Context, email string) (int64, error)
	DeactivateUserAlert(ctx context.Context, id int64) (bool, error)
}

// SignificantAlertStore defines operations for per-chain significant-change
// alert configuration.
type SignificantAlertStore interface {
	GetOrCreateSignificantConfig(ctx context.Context, chain string, defaults SignificantAlertDefaults) (SignificantAlertConfig, error)
	AdvanceLastChecked(ctx context.Context, id int64, at time.Time) error
}

// CreateUserAlert persists a new active alert.
func (s *Store) CreateUserAlert(ctx context.Context, alert UserPriceAlert) (UserPriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return UserPriceAlert{}, err
	}

	row := pool.QueryRow(ctx, insertUserAlertSQL,
		alert.TokenAddress,
		alert.Chain,
		alert.TargetPrice.String(),
		string(alert.Condition),
		alert.UserEmail,
	)

	created, scanErr := scanUserAlert(row)
	if scanErr != nil {
		return UserPriceAlert{}, fmt.Errorf("insert user alert: %w", scanErr)
	}
	return created, nil
}

// ListActiveUserAlerts lists every active alert across all users.
func (s *Store) ListActiveUserAlerts(ctx context.Context) ([]UserPriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveUserAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active user alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectUserAlerts(rows)
}

// ListUserAlertsByEmail pages through one user's active alerts.
func (s *Store) ListUserAlertsByEmail(ctx context.Context, email string, page, limit int) ([]UserPriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	rows, queryErr := pool.Query(ctx, listUserAlertsByEmailSQL, email, limit, (page-1)*limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list user alerts by email: %w", queryErr)
	}
	defer rows.Close()

	return collectUserAlerts(rows)
}

// CountActiveUserAlerts counts one user's active alerts.
func (s *Store) CountActiveUserAlerts(ctx context.Context, email string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if scanErr := pool.QueryRow(ctx, countActiveUserAlertsSQL, email).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count active user alerts: %w", scanErr)
	}
	return count, nil
}

// DeactivateUserAlert flips an alert inactive. It reports whether this call
// performed the transition, so concurrent passes cannot both claim it.
func (s *Store) DeactivateUserAlert(ctx context.Context, id int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, deactivateUserAlertSQL, id, time.Now().UTC())
	if execErr != nil {
		return false, fmt.Errorf("deactivate user alert: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// GetOrCreateSignificantConfig loads a chain's config, creating it with the
// supplied defaults on first access.
func (s *Store) GetOrCreateSignificantConfig(ctx context.Context, chain string, defaults SignificantAlertDefaults) (SignificantAlertConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return SignificantAlertConfig{}, err
	}

	cfg, scanErr := scanSignificantConfig(pool.QueryRow(ctx, selectSignificantConfigSQL, chain))
	if scanErr == nil {
		return cfg, nil
	}
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		return SignificantAlertConfig{}, fmt.Errorf("find significant alert config: %w", scanErr)
	}

	row := pool.QueryRow(ctx, insertSignificantConfigSQL,
		chain,
		defaults.ThresholdPct.String(),
		defaults.TimeFrameMinutes,
		defaults.RecipientEmail,
		time.Now().UTC(),
	)
	cfg, scanErr = scanSignificantConfig(row)
	if scanErr == nil {
		return cfg, nil
	}
	if isUniqueViolation(scanErr) {
		cfg, scanErr = scanSignificantConfig(pool.QueryRow(ctx, selectSignificantConfigSQL, chain))
		if scanErr != nil {
			return SignificantAlertConfig{}, fmt.Errorf("re-fetch significant alert config: %w", scanErr)
		}
		return cfg, nil
	}
	return SignificantAlertConfig{}, fmt.Errorf("insert significant alert config: %w", scanErr)
}

// AdvanceLastChecked moves lastCheckedAt forward; it never goes backwards.
func (s *Store) AdvanceLastChecked(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, advanceLastCheckedSQL, id, at.UTC())
	if execErr != nil {
		return fmt.Errorf("advance last checked: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectUserAlerts(rows pgx.Rows) ([]UserPriceAlert, error) {
	alerts := make([]UserPriceAlert, 0)
	for rows.Next() {
		alert, scanErr := scanUserAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanUserAlert(row pgx.Row) (UserPriceAlert, error) {
	var (
		alert     UserPriceAlert
		targetStr string
		condition string
	)

	if err := row.Scan(
		&alert.ID,
		&alert.TokenAddress,
		&alert.Chain,
		&targetStr,
		&condition,
		&alert.UserEmail,
		&alert.Active,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return UserPriceAlert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return UserPriceAlert{}, fmt.Errorf("parse target price: %w", err)
	}
	alert.TargetPrice = target
	alert.Condition = AlertCondition(condition)
	return alert, nil
}

func scanSignificantConfig(row pgx.Row) (SignificantAlertConfig, error) {
	var (
		cfg          SignificantAlertConfig
		thresholdStr string
	)

	if err := row.Scan(
		&cfg.ID,
		&cfg.Chain,
		&thresholdStr,
		&cfg.TimeFrameMinutes,
		&cfg.RecipientEmail,
		&cfg.LastCheckedAt,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return SignificantAlertConfig{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return SignificantAlertConfig{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	cfg.ThresholdPct = threshold
	return cfg, nil
}
