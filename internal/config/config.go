// Package config loads matchcore's runtime configuration: viper, a
// typed struct, an explicit env prefix, and defaults set before the
// config file is read so a missing file never leaves a zero-value
// surprise.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig is the operational store's connection shape.
type StoreConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RelationalConfig is the durable store's (Postgres) connection shape,
// consumed by internal/db and the Durable Synchroniser/Seed Loader.
type RelationalConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the libpq connection string gorm's postgres driver expects.
func (c RelationalConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LaneConfig tunes the per-symbol matching lanes.
type LaneConfig struct {
	IntakeCapacity  int           `mapstructure:"intake_capacity"`
	IntakeDeadline  time.Duration `mapstructure:"intake_deadline"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
}

// SynchroniserConfig tunes the durable synchroniser's drain loops.
type SynchroniserConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	Watermark     int64         `mapstructure:"watermark"`
}

// HealthChecksConfig governs startup dependency checks: FailFast,
// MaxRetries, RetryDelaySeconds.
type HealthChecksConfig struct {
	FailFast          bool `mapstructure:"fail_fast"`
	MaxRetries        int  `mapstructure:"max_retries"`
	RetryDelaySeconds int  `mapstructure:"retry_delay_seconds"`
}

// PublisherConfig tunes the market-data publisher's buffering and
// fan-out.
type PublisherConfig struct {
	GroupBufferSize int `mapstructure:"group_buffer_size"`
	FanoutPoolSize  int `mapstructure:"fanout_pool_size"`
}

// PairConfig is a trading pair's static metadata, expressed in
// human-facing decimal units; cmd/server converts MinQuantity/
// MaxQuantity into fixed-point domain.Amount at startup.
type PairConfig struct {
	Symbol            string  `mapstructure:"symbol"`
	BaseAsset         string  `mapstructure:"base_asset"`
	QuoteAsset        string  `mapstructure:"quote_asset"`
	PricePrecision    int     `mapstructure:"price_precision"`
	QuantityPrecision int     `mapstructure:"quantity_precision"`
	MinQuantity       float64 `mapstructure:"min_quantity"`
	MaxQuantity       float64 `mapstructure:"max_quantity"`
}

// Config is the root unmarshal target.
type Config struct {
	Store        StoreConfig        `mapstructure:"store"`
	Relational   RelationalConfig   `mapstructure:"relational"`
	Lane         LaneConfig         `mapstructure:"lane"`
	Synchroniser SynchroniserConfig `mapstructure:"synchroniser"`
	Publisher    PublisherConfig    `mapstructure:"publisher"`
	HealthChecks HealthChecksConfig `mapstructure:"health_checks"`
	MetricsPort  int                `mapstructure:"metrics_port"`
	LogLevel     string             `mapstructure:"log_level"`
	Pairs        []PairConfig       `mapstructure:"pairs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.addresses", []string{"127.0.0.1:6379"})
	v.SetDefault("store.db", 0)
	v.SetDefault("store.pool_size", 50)
	v.SetDefault("store.min_idle_conns", 5)
	v.SetDefault("store.dial_timeout", 5*time.Second)
	v.SetDefault("store.read_timeout", 3*time.Second)
	v.SetDefault("store.write_timeout", 3*time.Second)

	v.SetDefault("relational.host", "127.0.0.1")
	v.SetDefault("relational.port", 5432)
	v.SetDefault("relational.user", "matchcore")
	v.SetDefault("relational.database", "matchcore")
	v.SetDefault("relational.sslmode", "disable")
	v.SetDefault("relational.max_open_conns", 25)
	v.SetDefault("relational.max_idle_conns", 10)
	v.SetDefault("relational.conn_max_lifetime", time.Hour)

	v.SetDefault("lane.intake_capacity", 10000)
	v.SetDefault("lane.intake_deadline", 2*time.Second)
	v.SetDefault("lane.heartbeat_period", 5*time.Second)

	v.SetDefault("synchroniser.batch_size", 500)
	v.SetDefault("synchroniser.drain_interval", 10*time.Second)
	v.SetDefault("synchroniser.watermark", int64(10000))

	v.SetDefault("publisher.group_buffer_size", 256)
	v.SetDefault("publisher.fanout_pool_size", 64)

	v.SetDefault("health_checks.fail_fast", true)
	v.SetDefault("health_checks.max_retries", 5)
	v.SetDefault("health_checks.retry_delay_seconds", 2)

	v.SetDefault("metrics_port", 9090)
	v.SetDefault("log_level", "info")

	v.SetDefault("pairs", []map[string]interface{}{
		{
			"symbol": "BTCUSDT", "base_asset": "BTC", "quote_asset": "USDT",
			"price_precision": 2, "quantity_precision": 6,
			"min_quantity": 0.0001, "max_quantity": 0.0,
		},
	})
}

// Load reads matchcore.yaml, searched for in configPath (when set), the
// working directory and /etc/matchcore, plus MATCHCORE_-prefixed
// environment overrides. No process-wide singleton:
// each caller (cmd/server, tests) gets its own Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("matchcore")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/matchcore")

	v.AutomaticEnv()
	v.SetEnvPrefix("MATCHCORE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("matchcore: read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("matchcore: unmarshal config: %w", err)
	}
	return cfg, nil
}
