package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pricewatch", cfg.App.Name)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.Interval)
	assert.Equal(t, 3.0, cfg.Tracker.SignificantChangeThreshold)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 25, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10, cfg.Alerts.User.MaxPerUser)
	assert.Equal(t, time.Minute, cfg.Alerts.User.Interval)
	assert.Equal(t, 60, cfg.Alerts.Significant.DefaultTimeFrame)
	assert.True(t, cfg.Alerts.Significant.AdvanceOnEmpty)
	assert.False(t, cfg.Notifier.Enabled)

	require.Contains(t, cfg.Chains, "ethereum")
	assert.Equal(t, "0x1", cfg.Chains["ethereum"].HexCode)
	require.Contains(t, cfg.Chains, "polygon")
	assert.Equal(t, "0x89", cfg.Chains["polygon"].HexCode)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := `
tracker:
  interval: 30s
  significant_change_threshold: 5.5
chains:
  ethereum:
    hex_code: "0x1"
    native_token: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    tracked_tokens:
      - "0x6B175474E89094C44Da98b954EedeAC495271d0F"
cache:
  price_ttl: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Tracker.Interval)
	assert.Equal(t, 5.5, cfg.Tracker.SignificantChangeThreshold)
	assert.Equal(t, 90*time.Second, cfg.Cache.PriceTTL)
	require.Len(t, cfg.Chains["ethereum"].TrackedTokens, 1)
}

func TestMetadataTTL(t *testing.T) {
	cfg := CacheConfig{PriceTTL: 5 * time.Minute, MetadataTTLFactor: 12}
	assert.Equal(t, time.Hour, cfg.MetadataTTL())

	// Factor falls back when unset.
	cfg = CacheConfig{PriceTTL: 5 * time.Minute}
	assert.Equal(t, time.Hour, cfg.MetadataTTL())
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 42, cfg.ResolveMaxPoints(42))
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Chains = nil
	assert.ErrorContains(t, cfg.Validate(), "at least one chain")

	cfg = base()
	cfg.Chains = map[string]ChainConfig{"ethereum": {HexCode: "0x1"}}
	assert.ErrorContains(t, cfg.Validate(), "no tokens configured for tracking")

	cfg = base()
	cfg.Chains["ethereum"] = ChainConfig{NativeToken: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"}
	assert.ErrorContains(t, cfg.Validate(), "hex_code is required")

	cfg = base()
	cfg.Tracker.Interval = 0
	assert.ErrorContains(t, cfg.Validate(), "tracker.interval")

	cfg = base()
	cfg.Retry.MaxDelay = cfg.Retry.BaseDelay / 2
	assert.ErrorContains(t, cfg.Validate(), "base_delay <= max_delay")

	cfg = base()
	cfg.Cache.Backend = "redis"
	assert.ErrorContains(t, cfg.Validate(), "cache.redis_addr")

	cfg = base()
	cfg.Cache.Backend = "memcached"
	assert.ErrorContains(t, cfg.Validate(), "memory or redis")

	cfg = base()
	cfg.Alerts.User.MaxPerUser = 0
	assert.ErrorContains(t, cfg.Validate(), "max_per_user")

	cfg = base()
	cfg.Notifier.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "notifier.base_url")
}
