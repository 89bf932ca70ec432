// Root configuration for the monitoring engine and its harness.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Network  NetworkConfig  `mapstructure:"network"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Purchase PurchaseConfig `mapstructure:"purchase"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Format      string `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// NetworkConfig holds settings for the bridged HTTP clients.
type NetworkConfig struct {
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	IgnoreTLSErrors    bool          `mapstructure:"ignore_tls_errors"`
	EnableHTTP3        bool          `mapstructure:"enable_http3"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections"`
}

// PacingConfig shapes the inter-iteration sleep per speed tier. Jitter is a
// fraction of the base interval; quiet_multiplier inflates the sleep while the
// page keeps reporting nothing sellable or transient errors.
type PacingConfig struct {
	FastInterval    time.Duration `mapstructure:"fast_interval"`
	NormalInterval  time.Duration `mapstructure:"normal_interval"`
	SlowInterval    time.Duration `mapstructure:"slow_interval"`
	JitterFraction  float64       `mapstructure:"jitter_fraction"`
	QuietMultiplier float64       `mapstructure:"quiet_multiplier"`
}

// EngineConfig holds settings for the per-profile monitoring loops.
type EngineConfig struct {
	Pacing PacingConfig `mapstructure:"pacing"`

	// ConfigRefreshEvery is the iteration period for re-checking the external
	// continue signal and reloading the in-memory profile record.
	ConfigRefreshEvery int `mapstructure:"config_refresh_every"`
	// SessionRefreshEvery is the iteration period for re-reading browser
	// cookies into the HTTP session.
	SessionRefreshEvery int `mapstructure:"session_refresh_every"`

	StatusQueueSize int           `mapstructure:"status_queue_size"`
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`

	// FetchRetryAttempts bounds the retries of one page fetch or session
	// creation before the failure reaches the loop's failure budget.
	FetchRetryAttempts int           `mapstructure:"fetch_retry_attempts"`
	FetchRetryMinDelay time.Duration `mapstructure:"fetch_retry_min_delay"`
	FetchRetryMaxDelay time.Duration `mapstructure:"fetch_retry_max_delay"`

	// MaxConsecutiveFailures ends a loop after this many iterations in a row
	// lose their page fetch even after retries.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`

	// RetryJitterFraction bounds the random spread applied to backoff delays.
	RetryJitterFraction float64 `mapstructure:"retry_jitter_fraction"`
}

// PurchaseConfig holds settings for the reservation step.
type PurchaseConfig struct {
	// PriceCeiling is the maximum per-seat full price considered purchasable.
	PriceCeiling   float64       `mapstructure:"price_ceiling"`
	ReserveTimeout time.Duration `mapstructure:"reserve_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryMinDelay  time.Duration `mapstructure:"retry_min_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// SetDefaults registers every tunable's default on the given viper instance.
// Called before binding flags so explicit settings always win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "ticket-scout")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("network.dial_timeout", 5*time.Second)
	v.SetDefault("network.request_timeout", 30*time.Second)
	v.SetDefault("network.max_idle_connections", 100)

	v.SetDefault("engine.pacing.fast_interval", 2*time.Second)
	v.SetDefault("engine.pacing.normal_interval", 5*time.Second)
	v.SetDefault("engine.pacing.slow_interval", 12*time.Second)
	v.SetDefault("engine.pacing.jitter_fraction", 0.35)
	v.SetDefault("engine.pacing.quiet_multiplier", 1.6)
	v.SetDefault("engine.config_refresh_every", 30)
	v.SetDefault("engine.session_refresh_every", 100)
	v.SetDefault("engine.status_queue_size", 1024)
	v.SetDefault("engine.stop_grace_period", 5*time.Second)
	v.SetDefault("engine.fetch_retry_attempts", 3)
	v.SetDefault("engine.fetch_retry_min_delay", 1*time.Second)
	v.SetDefault("engine.fetch_retry_max_delay", 8*time.Second)
	v.SetDefault("engine.max_consecutive_failures", 5)
	v.SetDefault("engine.retry_jitter_fraction", 0.2)

	v.SetDefault("purchase.price_ceiling", 100.0)
	v.SetDefault("purchase.reserve_timeout", 15*time.Second)
	v.SetDefault("purchase.retry_attempts", 3)
	v.SetDefault("purchase.retry_min_delay", 250*time.Millisecond)
	v.SetDefault("purchase.retry_max_delay", 2*time.Second)
}

// Validate checks the invariants the engine relies on at startup.
func (c *Config) Validate() error {
	if c.Engine.ConfigRefreshEvery < 1 {
		return fmt.Errorf("engine.config_refresh_every must be a positive integer")
	}
	if c.Engine.SessionRefreshEvery < 1 {
		return fmt.Errorf("engine.session_refresh_every must be a positive integer")
	}
	if c.Engine.StatusQueueSize < 1 {
		return fmt.Errorf("engine.status_queue_size must be a positive integer")
	}
	if c.Engine.FetchRetryAttempts < 1 {
		return fmt.Errorf("engine.fetch_retry_attempts must be a positive integer")
	}
	if c.Engine.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("engine.max_consecutive_failures must be a positive integer")
	}
	if f := c.Engine.Pacing.JitterFraction; f < 0 || f >= 1 {
		return fmt.Errorf("engine.pacing.jitter_fraction must be in [0,1), got %v", f)
	}
	if f := c.Engine.RetryJitterFraction; f < 0 || f >= 1 {
		return fmt.Errorf("engine.retry_jitter_fraction must be in [0,1), got %v", f)
	}
	if c.Purchase.PriceCeiling <= 0 {
		return fmt.Errorf("purchase.price_ceiling must be positive")
	}
	if c.Purchase.RetryAttempts < 1 {
		return fmt.Errorf("purchase.retry_attempts must be a positive integer")
	}
	if c.Purchase.RetryMinDelay > c.Purchase.RetryMaxDelay {
		return fmt.Errorf("purchase.retry_min_delay must not exceed purchase.retry_max_delay")
	}
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("network.request_timeout must be positive")
	}
	return nil
}

// Interval returns the base polling interval for a speed tier. Unknown or
// empty tiers fall back to the normal cadence.
func (p PacingConfig) Interval(tier string) time.Duration {
	switch tier {
	case "fast":
		return p.FastInterval
	case "slow":
		return p.SlowInterval
	default:
		return p.NormalInterval
	}
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
