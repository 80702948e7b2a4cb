package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertPriceSQL = `INSERT INTO prices (
        token_id,
        usd_price,
        observed_at,
        percent_change_1h,
        percent_change_24h
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, token_id, usd_price, observed_at, percent_change_1h, percent_change_24h, created_at;`

	selectLatestPriceSQL = `SELECT id, token_id, usd_price, observed_at, percent_change_1h, percent_change_24h, created_at
    FROM prices
    WHERE token_id = $1
    ORDER BY observed_at DESC
    LIMIT 1;`

	selectPriceAtOrBeforeSQL = `SELECT id, token_id, usd_price, observed_at, percent_change_1h, percent_change_24h, created_at
    FROM prices
    WHERE token_id = $1
      AND observed_at < $2
    ORDER BY observed_at DESC
    LIMIT 1;`

	selectPricesInRangeSQL = `SELECT id, token_id, usd_price, observed_at, percent_change_1h, percent_change_24h, created_at
    FROM prices
    WHERE token_id = $1
      AND observed_at >= $2
      AND observed_at <= $3
    ORDER BY observed_at;`

	selectHourlyPricesSQL = `SELECT DISTINCT ON (DATE_TRUNC('hour', observed_at))
        id, token_id, usd_price, observed_at, percent_change_1h, percent_change_24h, created_at
    FROM prices
    WHERE token_id = $1
      AND observed_at >= $2
      AND observed_at <= $3
    ORDER BY DATE_TRUNC('hour', observed_at) DESC, observed_at DESC
    LIMIT $4 OFFSET $5;`

	countHourlyPricesSQL = `SELECT COUNT(DISTINCT DATE_TRUNC('hour', observed_at))
    FROM prices
    WHERE token_id = $1
      AND observed_at >= $2
      AND observed_at <= $3;`

	selectRecentPricesSQL = `SELECT id, token_id, usd_price, observed_at, percent_change_1h, percent_change_24h, created_at
    FROM prices
    WHERE token_id = $1
    ORDER BY observed_at DESC
    LIMIT $2;`
)

// PriceStore defines operations for price-observation persistence. The
// prices table is append-only; rows are never updated or reordered.
type PriceStore interface {
	SavePrice(ctx context.Context, observation PriceObservation) (PriceObservation, error)
	FindLatestPrice(ctx context.Context, tokenID int64) (PriceObservation, error)
	FindPriceAtOrBefore(ctx context.Context, tokenID int64, at time.Time) (PriceObservation, error)
	FindPricesInRange(ctx context.Context, tokenID int64, from, to time.Time) ([]PriceObservation, error)
	FindHourlyPrices(ctx context.Context, tokenID int64, from, to time.Time, page, limit int) (PricePage, error)
	ListRecentPrices(ctx context.Context, tokenID int64, limit int) ([]PriceObservation, error)
}

// SavePrice appends one observation.
func (s *Store) SavePrice(ctx context.Context, observation PriceObservation) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}

	var change1h, change24h interface{}
	if observation.PercentChange1h != nil {
		change1h = observation.PercentChange1h.String()
	}
	if observation.PercentChange24h != nil {
		change24h = observation.PercentChange24h.String()
	}

	row := pool.QueryRow(ctx, insertPriceSQL,
		observation.TokenID,
		observation.USDPrice.String(),
		observation.Timestamp,
		change1h,
		change24h,
	)

	saved, scanErr := scanPriceObservation(row)
	if scanErr != nil {
		return PriceObservation{}, fmt.Errorf("insert price: %w", scanErr)
	}
	return saved, nil
}

// FindLatestPrice returns the observation with the greatest timestamp.
func (s *Store) FindLatestPrice(ctx context.Context, tokenID int64) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}

	observation, scanErr := scanPriceObservation(pool.QueryRow(ctx, selectLatestPriceSQL, tokenID))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return PriceObservation{}, ErrNotFound
	}
	if scanErr != nil {
		return PriceObservation{}, fmt.Errorf("find latest price: %w", scanErr)
	}
	return observation, nil
}

// FindPriceAtOrBefore returns the most recent observation strictly before at.
func (s *Store) FindPriceAtOrBefore(ctx context.Context, tokenID int64, at time.Time) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}

	observation, scanErr := scanPriceObservation(pool.QueryRow(ctx, selectPriceAtOrBeforeSQL, tokenID, at))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return PriceObservation{}, ErrNotFound
	}
	if scanErr != nil {
		return PriceObservation{}, fmt.Errorf("find price at or before: %w", scanErr)
	}
	return observation, nil
}

// FindPricesInRange lists observations within [from, to] in ascending order.
func (s *Store) FindPricesInRange(ctx context.Context, tokenID int64, from, to time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectPricesInRangeSQL, tokenID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("find prices in range: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0)
	for rows.Next() {
		observation, scanErr := scanPriceObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, observation)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// FindHourlyPrices pages through one observation per hour bucket, newest
// bucket first.
func (s *Store) FindHourlyPrices(ctx context.Context, tokenID int64, from, to time.Time, page, limit int) (PricePage, error) {
	pool, err := s.getPool()
	if err != nil {
		return PricePage{}, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 24
	}
	offset := (page - 1) * limit

	rows, queryErr := pool.Query(ctx, selectHourlyPricesSQL, tokenID, from, to, limit, offset)
	if queryErr != nil {
		return PricePage{}, fmt.Errorf("find hourly prices: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0, limit)
	for rows.Next() {
		observation, scanErr := scanPriceObservation(rows)
		if scanErr != nil {
			return PricePage{}, scanErr
		}
		observations = append(observations, observation)
	}
	if rows.Err() != nil {
		return PricePage{}, rows.Err()
	}

	var total int64
	if scanErr := pool.QueryRow(ctx, countHourlyPricesSQL, tokenID, from, to).Scan(&total); scanErr != nil {
		return PricePage{}, fmt.Errorf("count hourly prices: %w", scanErr)
	}

	return PricePage{
		Observations: observations,
		Total:        total,
		Page:         page,
		Limit:        limit,
	}, nil
}

// ListRecentPrices returns up to limit observations, newest first.
func (s *Store) ListRecentPrices(ctx context.Context, tokenID int64, limit int) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 20
	}

	rows, queryErr := pool.Query(ctx, selectRecentPricesSQL, tokenID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent prices: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0, limit)
	for rows.Next() {
		observation, scanErr := scanPriceObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, observation)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanPriceObservation(row pgx.Row) (PriceObservation, error) {
	var (
		observation PriceObservation
		priceStr    string
		change1h    sql.NullString
		change24h   sql.NullString
	)

	if err := row.Scan(
		&observation.ID,
		&observation.TokenID,
		&priceStr,
		&observation.Timestamp,
		&change1h,
		&change24h,
		&observation.CreatedAt,
	); err != nil {
		return PriceObservation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("parse usd price: %w", err)
	}
	observation.USDPrice = price

	if change1h.Valid {
		change, convErr := decimal.NewFromString(change1h.String)
		if convErr != nil {
			return PriceObservation{}, fmt.Errorf("parse 1h percent change: %w", convErr)
		}
		observation.PercentChange1h = &change
	}
	if change24h.Valid {
		change, convErr := decimal.NewFromString(change24h.String)
		if convErr != nil {
			return PriceObservation{}, fmt.Errorf("parse 24h percent change: %w", convErr)
		}
		observation.PercentChange24h = &change
	}

	return observation, nil
}
