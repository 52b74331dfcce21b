package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Stream transports
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportNATS      = "nats"
)

type Config struct {
	// Environment
	Environment string

	// Game backend
	APIURL          string
	APIToken        string
	RequestTimeout  time.Duration
	StreamTransport string
	WSURL           string

	// Redis
	RedisURL         string
	RedisPassword    string
	SnapshotCacheTTL time.Duration

	// NATS
	NATSURL   string
	NATSToken string

	// Database
	DatabaseURL      string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string

	// Formance
	FormanceAPIURL     string
	FormanceAPIKey     string
	FormanceLedgerName string
	FormanceCurrency   string

	// Server
	Port string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		// Environment
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		// Game backend
		APIURL:          strings.TrimRight(getEnvOrDefault("API_URL", "http://localhost:8000"), "/"),
		APIToken:        getEnvOrDefault("API_TOKEN", ""),
		RequestTimeout:  getDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		StreamTransport: strings.ToLower(getEnvOrDefault("STREAM_TRANSPORT", TransportSSE)),
		WSURL:           strings.TrimRight(getEnvOrDefault("WS_URL", ""), "/"),

		// Redis
		RedisURL:         getEnvOrDefault("REDIS_URL", ""),
		RedisPassword:    getEnvOrDefault("REDIS_PASSWORD", ""),
		SnapshotCacheTTL: getDurationOrDefault("SNAPSHOT_CACHE_TTL", 12*time.Hour),

		// NATS
		NATSURL:   getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnvOrDefault("NATS_TOKEN", ""),

		// Database
		DatabaseURL:      getEnvOrDefault("DATABASE_URL", ""),
		PostgresDB:       getEnvOrDefault("POSTGRES_DB", "homegame"),
		PostgresUser:     getEnvOrDefault("POSTGRES_USER", "homegame"),
		PostgresPassword: getEnvOrDefault("POSTGRES_PASSWORD", ""),
		PostgresHost:     getEnvOrDefault("POSTGRES_HOST", ""),
		PostgresPort:     getEnvOrDefault("POSTGRES_PORT", "5432"),

		// Formance
		FormanceAPIURL:     getEnvOrDefault("FORMANCE_API_URL", ""),
		FormanceAPIKey:     getEnvOrDefault("FORMANCE_API_KEY", ""),
		FormanceLedgerName: getEnvOrDefault("FORMANCE_LEDGER_NAME", "homegame"),
		FormanceCurrency:   getEnvOrDefault("FORMANCE_CURRENCY", "USD/2"),

		// Server
		Port: getEnvOrDefault("PORT", "8080"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API_URL is required")
	}
	switch c.StreamTransport {
	case TransportSSE, TransportNATS:
	case TransportWebSocket:
		if c.GetWSURL() == "" {
			return fmt.Errorf("WS_URL is required for the websocket transport")
		}
	case TransportRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis transport")
		}
	default:
		return fmt.Errorf("unknown STREAM_TRANSPORT %q", c.StreamTransport)
	}
	return nil
}

// GetWSURL returns WS_URL, or the API URL with its scheme switched to ws(s)
func (c *Config) GetWSURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	switch {
	case strings.HasPrefix(c.APIURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.APIURL, "https://")
	case strings.HasPrefix(c.APIURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.APIURL, "http://")
	}
	return ""
}

// CacheEnabled reports whether snapshots are cached in Redis
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != ""
}

// JournalEnabled reports whether settlements are journaled to Postgres
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != "" || c.PostgresHost != ""
}

// FormanceEnabled reports whether settlements can be posted to Formance
func (c *Config) FormanceEnabled() bool {
	return c.FormanceAPIURL != ""
}

func (c *Config) GetDatabaseURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
	)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return d
}
