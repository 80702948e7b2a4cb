package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/config"
)

// Store is a best-effort TTL key-value store. A failing store must never
// fail a read path; callers degrade to recomputing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewStore selects a cache backend from config.
func NewStore(cfg config.CacheConfig) Store {
	if cfg.Backend == "redis" {
		return NewRedis(cfg)
	}
	return NewMemory()
}

// PriceKey keys the latest-price entry for a token.
func PriceKey(chain, address string) string {
	return fmt.Sprintf("price:%s:%s", chain, address)
}

// MetadataKey keys the metadata entry for a token.
func MetadataKey(chain, address string) string {
	return fmt.Sprintf("metadata:%s:%s", chain, address)
}

// HourlyKey keys one page of a token's hourly price history.
func HourlyKey(chain, address string, page, limit int) string {
	return fmt.Sprintf("hourly:%s:%s:%d:%d", chain, address, page, limit)
}

// Fetch is a generic read-through decorator: on hit it returns the cached
// value without invoking compute; on miss it computes, stores with ttl, and
// returns. Any cache failure degrades to recomputing.
func Fetch[T any](ctx context.Context, store Store, logger zerolog.Logger, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	if store != nil {
		payload, ok, err := store.Get(ctx, key)
		switch {
		case err != nil:
			logger.Debug().Err(err).Str("key", key).Msg("cache read failed; recomputing")
		case ok:
			var value T
			decodeErr := json.Unmarshal(payload, &value)
			if decodeErr == nil {
				return value, nil
			}
			logger.Debug().Err(decodeErr).Str("key", key).Msg("cache entry undecodable; recomputing")
		}
	}

	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	if store != nil {
		if payload, marshalErr := json.Marshal(value); marshalErr == nil {
			if setErr := store.Set(ctx, key, payload, ttl); setErr != nil {
				logger.Debug().Err(setErr).Str("key", key).Msg("cache write failed")
			}
		}
	}

	return value, nil
}

// Put writes a value through to the cache, replacing whatever is stored
// under the key. A nil store is a no-op.
func Put[T any](ctx context.Context, store Store, key string, value T, ttl time.Duration) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, payload, ttl)
}
