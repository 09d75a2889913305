// Package config loads service configuration from the environment.
// Priority: ENV vars > .env file > struct defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Bus holds the NATS/JetStream settings shared by both services.
type Bus struct {
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	TradesStream  string `env:"TRADES_STREAM" envDefault:"TRADES"`
	TradesSubject string `env:"TRADES_SUBJECT" envDefault:"trades"`
	OHLCStream    string `env:"OHLC_STREAM" envDefault:"OHLC"`
	OHLCSubject   string `env:"OHLC_SUBJECT" envDefault:"ohlc-trades"`
}

// Aggregator is the configuration for the OHLC aggregator service.
type Aggregator struct {
	Bus

	// Durable consumer name on the trades stream. The consumer is created
	// with max-ack-pending 1 so per-symbol order survives redelivery.
	TradesDurable string `env:"TRADES_DURABLE" envDefault:"ohlc-aggregator"`

	// Column store.
	ClickHouseAddr     string `env:"CLICKHOUSE_ADDR" envDefault:"localhost:9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DB" envDefault:"ohlc_db"`
	ClickHouseUsername string `env:"CLICKHOUSE_USERNAME,required"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD,required"`

	// Aggregation behavior.
	SmoothGaps        bool          `env:"OHLC_SMOOTH_GAPS" envDefault:"false"`
	CleanupMaxAge     time.Duration `env:"OHLC_CLEANUP_MAX_AGE" envDefault:"24h"`
	CleanupInterval   time.Duration `env:"OHLC_CLEANUP_INTERVAL" envDefault:"1h"`
	EventTimeEviction bool          `env:"OHLC_EVENT_TIME_EVICTION" envDefault:"false"`

	// Monitoring.
	MetricsAddr     string        `env:"AGG_METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Fanout is the configuration for the WebSocket fan-out service.
type Fanout struct {
	Bus

	// Durable consumer shared by all fan-out instances.
	OHLCDurable string `env:"OHLC_DURABLE" envDefault:"trade-data-ws"`

	Addr           string `env:"WS_ADDR" envDefault:":8765"`
	MaxConnections int    `env:"WS_MAX_CONNECTIONS" envDefault:"5000"`

	// Connection rate limiting (DoS protection).
	ConnRateLimitEnabled     bool    `env:"WS_CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPBurst     int     `env:"WS_CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"WS_CONN_RATE_LIMIT_IP_RATE" envDefault:"1"`
	ConnRateLimitGlobalBurst int     `env:"WS_CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64 `env:"WS_CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50"`

	// Grace period for draining connections on shutdown.
	DrainTimeout time.Duration `env:"WS_DRAIN_TIMEOUT" envDefault:"30s"`

	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadAggregator reads aggregator configuration from .env and the
// environment.
func LoadAggregator() (*Aggregator, error) {
	loadDotenv()

	cfg := &Aggregator{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validateCommon(cfg.LogLevel, cfg.LogFormat, cfg.Bus); err != nil {
		return nil, err
	}
	if cfg.CleanupMaxAge <= 0 {
		return nil, fmt.Errorf("OHLC_CLEANUP_MAX_AGE must be > 0, got %s", cfg.CleanupMaxAge)
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("OHLC_CLEANUP_INTERVAL must be > 0, got %s", cfg.CleanupInterval)
	}
	return cfg, nil
}

// LoadFanout reads fan-out configuration from .env and the environment.
func LoadFanout() (*Fanout, error) {
	loadDotenv()

	cfg := &Fanout{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validateCommon(cfg.LogLevel, cfg.LogFormat, cfg.Bus); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("WS_ADDR is required")
	}
	if cfg.MaxConnections < 1 {
		return nil, fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", cfg.MaxConnections)
	}
	return cfg, nil
}

// loadDotenv pulls in a .env file when present. Production containers use
// real environment variables; the file is a development convenience.
func loadDotenv() {
	_ = godotenv.Load()
}

func validateCommon(logLevel, logFormat string, bus Bus) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[logLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", logLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[logFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", logFormat)
	}
	if bus.URL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if bus.TradesSubject == "" || bus.OHLCSubject == "" {
		return fmt.Errorf("TRADES_SUBJECT and OHLC_SUBJECT are required")
	}
	return nil
}
