package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	selectTokenSQL = `SELECT id, address, chain, symbol, name, decimals, created_at, updated_at
    FROM tokens
    WHERE address = $1 AND chain = $2;`

	insertTokenSQL = `INSERT INTO tokens (address, chain, symbol, name)
    VALUES ($1, $2, 'UNKNOWN', 'Unknown')
    RETURNING id, address, chain, symbol, name, decimals, created_at, updated_at;`

	listTokensByChainSQL = `SELECT id, address, chain, symbol, name, decimals, created_at, updated_at
    FROM tokens
    WHERE chain = $1
    ORDER BY id;`

	updateTokenMetadataSQL = `UPDATE tokens
    SET symbol = $2, name = $3, decimals = $4, updated_at = $5
    WHERE id = $1;`
)

// TokenStore defines operations for token persistence.
type TokenStore interface {
	EnsureToken(ctx context.Context, address, chain string) (Token, error)
	FindToken(ctx context.Context, address, chain string) (Token, error)
	ListTokensByChain(ctx context.Context, chain string) ([]Token, error)
	UpdateTokenMetadata(ctx context.Context, tokenID int64, symbol, name string, decimals *int) error
}

// EnsureToken is an idempotent get-or-create. Concurrent creators racing on
// the (address, chain) unique constraint lose the insert and re-fetch the
// winner's row.
func (s *Store) EnsureToken(ctx context.Context, address, chain string) (Token, error) {
	token, err := s.FindToken(ctx, address, chain)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Token{}, err
	}

	pool, err := s.getPool()
	if err != nil {
		return Token{}, err
	}

	row := pool.QueryRow(ctx, insertTokenSQL, address, chain)
	token, err = scanToken(row)
	if err == nil {
		return token, nil
	}
	if isUniqueViolation(err) {
		return s.FindToken(ctx, address, chain)
	}
	return Token{}, fmt.Errorf("insert token: %w", err)
}

// FindToken loads a token by its (address, chain) identity.
func (s *Store) FindToken(ctx context.Context, address, chain string) (Token, error) {
	pool, err := s.getPool()
	if err != nil {
		return Token{}, err
	}

	token, err := scanToken(pool.QueryRow(ctx, selectTokenSQL, address, chain))
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("find token: %w", err)
	}
	return token, nil
}

// ListTokensByChain lists all tokens known on a chain.
func (s *Store) ListTokensByChain(ctx context.Context, chain string) ([]Token, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTokensByChainSQL, chain)
	if queryErr != nil {
		return nil, fmt.Errorf("list tokens by chain: %w", queryErr)
	}
	defer rows.Close()

	tokens := make([]Token, 0)
	for rows.Next() {
		token, scanErr := scanToken(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tokens = append(tokens, token)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

// UpdateTokenMetadata fills in resolved symbol, name, and decimals.
func (s *Store) UpdateTokenMetadata(ctx context.Context, tokenID int64, symbol, name string, decimals *int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var decimalsArg interface{}
	if decimals != nil {
		decimalsArg = *decimals
	}

	cmdTag, execErr := pool.Exec(ctx, updateTokenMetadataSQL, tokenID, symbol, name, decimalsArg, time.Now().UTC())
	if execErr != nil {
		return fmt.Errorf("update token metadata: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanToken(row pgx.Row) (Token, error) {
	var (
		token    Token
		decimals sql.NullInt64
	)

	if err := row.Scan(
		&token.ID,
		&token.Address,
		&token.Chain,
		&token.Symbol,
		&token.Name,
		&decimals,
		&token.CreatedAt,
		&token.UpdatedAt,
	); err != nil {
		return Token{}, err
	}

	if decimals.Valid {
		value := int(decimals.Int64)
		token.Decimals = &value
	}
	return token, nil
}
