package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the attribution engine.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Ingest      IngestConfig
	Attribution AttributionConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional event archive sink.
type ClickHouseConfig struct {
	Enabled       bool
	Addr          string
	Database      string
	User          string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
}

type AuthConfig struct {
	Enabled   bool
	SkipPaths []string
	// BootstrapKey seeds an API key for the default account when running
	// without Postgres (development and tests).
	BootstrapKey string
}

type RateLimitConfig struct {
	Enabled bool
	// Local token bucket settings (fallback when Redis is unavailable).
	RPS   float64
	Burst int
	// Fixed-window settings for the Redis limiter.
	WindowRequests int
	Window         time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures optional GeoIP enrichment of request metadata.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// IngestConfig sizes the asynchronous ingestion worker.
type IngestConfig struct {
	Workers   int
	QueueSize int
}

// AttributionConfig holds attribution computation settings.
type AttributionConfig struct {
	DefaultLookbackDays int
	HalfLifeDays        float64
	Workers             int
	QueueSize           int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("MULTIBUZZ_HTTP_ADDR", ":8080"),
			Env:             getEnv("MULTIBUZZ_ENV", "development"),
			ShutdownTimeout: getDurationEnv("MULTIBUZZ_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("MULTIBUZZ_DB_HOST", "localhost"),
			Port:     getIntEnv("MULTIBUZZ_DB_PORT", 5432),
			User:     getEnv("MULTIBUZZ_DB_USER", "multibuzz"),
			Password: getEnv("MULTIBUZZ_DB_PASSWORD", "multibuzz_secret"),
			DBName:   getEnv("MULTIBUZZ_DB_NAME", "multibuzz"),
			SSLMode:  getEnv("MULTIBUZZ_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("MULTIBUZZ_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("MULTIBUZZ_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("MULTIBUZZ_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("MULTIBUZZ_REDIS_PASSWORD", ""),
			DB:       getIntEnv("MULTIBUZZ_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       getBoolEnv("MULTIBUZZ_CLICKHOUSE_ENABLED", false),
			Addr:          getEnv("MULTIBUZZ_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:      getEnv("MULTIBUZZ_CLICKHOUSE_DB", "multibuzz"),
			User:          getEnv("MULTIBUZZ_CLICKHOUSE_USER", "default"),
			Password:      getEnv("MULTIBUZZ_CLICKHOUSE_PASSWORD", ""),
			BatchSize:     getIntEnv("MULTIBUZZ_CLICKHOUSE_BATCH_SIZE", 500),
			FlushInterval: getDurationEnv("MULTIBUZZ_CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
		},
		Auth: AuthConfig{
			Enabled:      getBoolEnv("MULTIBUZZ_AUTH_ENABLED", true),
			SkipPaths:    getSliceEnv("MULTIBUZZ_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
			BootstrapKey: getEnv("MULTIBUZZ_AUTH_BOOTSTRAP_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getBoolEnv("MULTIBUZZ_RATE_LIMIT_ENABLED", true),
			RPS:            getFloatEnv("MULTIBUZZ_RATE_LIMIT_RPS", 100),
			Burst:          getIntEnv("MULTIBUZZ_RATE_LIMIT_BURST", 50),
			WindowRequests: getIntEnv("MULTIBUZZ_RATE_LIMIT_WINDOW_REQUESTS", 6000),
			Window:         getDurationEnv("MULTIBUZZ_RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("MULTIBUZZ_LOG_LEVEL", "info"),
			Format: getEnv("MULTIBUZZ_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("MULTIBUZZ_METRICS_ENABLED", true),
			Path:    getEnv("MULTIBUZZ_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("MULTIBUZZ_GEO_ENABLED", false),
			DatabasePath: getEnv("MULTIBUZZ_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Ingest: IngestConfig{
			Workers:   getIntEnv("MULTIBUZZ_INGEST_WORKERS", 4),
			QueueSize: getIntEnv("MULTIBUZZ_INGEST_QUEUE_SIZE", 1024),
		},
		Attribution: AttributionConfig{
			DefaultLookbackDays: getIntEnv("MULTIBUZZ_ATTRIBUTION_LOOKBACK_DAYS", 30),
			HalfLifeDays:        getFloatEnv("MULTIBUZZ_ATTRIBUTION_HALF_LIFE_DAYS", 7),
			Workers:             getIntEnv("MULTIBUZZ_ATTRIBUTION_WORKERS", 2),
			QueueSize:           getIntEnv("MULTIBUZZ_ATTRIBUTION_QUEUE_SIZE", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("MULTIBUZZ_INGEST_WORKERS must be at least 1")
	}
	if c.Attribution.DefaultLookbackDays < 1 || c.Attribution.DefaultLookbackDays > 365 {
		return fmt.Errorf("MULTIBUZZ_ATTRIBUTION_LOOKBACK_DAYS must be between 1 and 365")
	}
	if c.Attribution.HalfLifeDays <= 0 {
		return fmt.Errorf("MULTIBUZZ_ATTRIBUTION_HALF_LIFE_DAYS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
