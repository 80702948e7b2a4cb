package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pricewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig              `mapstructure:"app"`
	Logging   logging.Config         `mapstructure:"logging"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Provider  ProviderConfig         `mapstructure:"provider"`
	RateLimit RateLimitConfig        `mapstructure:"rate_limit"`
	Retry     RetryConfig            `mapstructure:"retry"`
	Cache     CacheConfig            `mapstructure:"cache"`
	Chains    map[string]ChainConfig `mapstructure:"chains"`
	Tracker   TrackerConfig          `mapstructure:"tracker"`
	Alerts    AlertsConfig           `mapstructure:"alerts"`
	Notifier  NotifierConfig         `mapstructure:"notifier"`
	Export    ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ProviderConfig covers the external price-data API.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// RateLimitConfig bounds outbound provider calls per fixed window.
type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// RetryConfig tunes the exponential backoff schedule.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// CacheConfig selects and tunes the read-through cache.
type CacheConfig struct {
	Backend           string        `mapstructure:"backend"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	PriceTTL          time.Duration `mapstructure:"price_ttl"`
	MetadataTTLFactor int           `mapstructure:"metadata_ttl_factor"`
}

// MetadataTTL derives the metadata TTL from the price TTL.
func (c CacheConfig) MetadataTTL() time.Duration {
	factor := c.MetadataTTLFactor
	if factor <= 0 {
		factor = 12
	}
	return c.PriceTTL * time.Duration(factor)
}

// ChainConfig describes one tracked blockchain network.
type ChainConfig struct {
	HexCode       string   `mapstructure:"hex_code"`
	NativeToken   string   `mapstructure:"native_token"`
	TrackedTokens []string `mapstructure:"tracked_tokens"`
}

// TrackerConfig governs the ingestion loop.
type TrackerConfig struct {
	Interval                   time.Duration `mapstructure:"interval"`
	SignificantChangeThreshold float64       `mapstructure:"significant_change_threshold"`
	MaxWorkers                 int           `mapstructure:"max_workers"`
	EventBuffer                int           `mapstructure:"event_buffer"`
}

// AlertsConfig tunes the two evaluation loops.
type AlertsConfig struct {
	User        UserAlertsConfig        `mapstructure:"user"`
	Significant SignificantAlertsConfig `mapstructure:"significant"`
}

// UserAlertsConfig governs per-user target-price alerts.
type UserAlertsConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MaxPerUser int           `mapstructure:"max_per_user"`
}

// SignificantAlertsConfig governs chain-wide change alerts.
type SignificantAlertsConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	DefaultThreshold float64       `mapstructure:"default_threshold_pct"`
	DefaultTimeFrame int           `mapstructure:"default_time_frame_minutes"`
	RecipientEmail   string        `mapstructure:"recipient_email"`
	AdvanceOnEmpty   bool          `mapstructure:"advance_on_empty"`
}

// NotifierConfig routes alert notifications to the mail relay.
type NotifierConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	FromAddress    string        `mapstructure:"from_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("provider.base_url", "https://deep-index.moralis.io/api/v2")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.user_agent", "pricewatch/1.0")

	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("rate_limit.max_requests", 25)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "8s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.price_ttl", "5m")
	v.SetDefault("cache.metadata_ttl_factor", 12)

	v.SetDefault("chains.ethereum.hex_code", "0x1")
	v.SetDefault("chains.ethereum.native_token", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	v.SetDefault("chains.polygon.hex_code", "0x89")
	v.SetDefault("chains.polygon.native_token", "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")

	v.SetDefault("tracker.interval", "5m")
	v.SetDefault("tracker.significant_change_threshold", 3.0)
	v.SetDefault("tracker.max_workers", 8)
	v.SetDefault("tracker.event_buffer", 64)

	v.SetDefault("alerts.user.interval", "1m")
	v.SetDefault("alerts.user.max_per_user", 10)
	v.SetDefault("alerts.significant.interval", "5m")
	v.SetDefault("alerts.significant.default_threshold_pct", 3.0)
	v.SetDefault("alerts.significant.default_time_frame_minutes", 60)
	v.SetDefault("alerts.significant.advance_on_empty", true)

	v.SetDefault("notifier.enabled", false)
	v.SetDefault("notifier.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Tracker.Interval <= 0 {
		return fmt.Errorf("tracker.interval must be greater than zero")
	}
	if c.Tracker.SignificantChangeThreshold < 0 {
		return fmt.Errorf("tracker.significant_change_threshold cannot be negative")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.window and rate_limit.max_requests must be greater than zero")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Cache.PriceTTL <= 0 {
		return fmt.Errorf("cache.price_ttl must be greater than zero")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be memory or redis")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	tokens := 0
	for name, chain := range c.Chains {
		if chain.HexCode == "" {
			return fmt.Errorf("chains.%s.hex_code is required", name)
		}
		if chain.NativeToken != "" {
			tokens++
		}
		tokens += len(chain.TrackedTokens)
	}
	if tokens == 0 {
		return fmt.Errorf("no tokens configured for tracking")
	}
	if c.Alerts.User.Interval <= 0 || c.Alerts.Significant.Interval <= 0 {
		return fmt.Errorf("alert evaluation intervals must be greater than zero")
	}
	if c.Alerts.User.MaxPerUser <= 0 {
		return fmt.Errorf("alerts.user.max_per_user must be greater than zero")
	}
	if c.Notifier.Enabled && c.Notifier.BaseURL == "" {
		return fmt.Errorf("notifier.base_url is required when notifier is enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
