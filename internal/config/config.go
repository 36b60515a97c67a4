package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Transaction ledger
	LedgerAPIURL   string
	LedgerAPIToken string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Payment channel
	MaxOpenChannels int
	ChannelTimeout  time.Duration

	// Embedded channel simulator
	SimulatorMode  string // "auto" | "silent"
	SimulatorDelay time.Duration

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Auth
	JWTSecret string

	// Terminal
	TerminalPINHash string // bcrypt hash of the kiosk operator PIN
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LedgerAPIURL:   getEnv("LEDGER_API_URL", "http://localhost:8000/api"),
		LedgerAPIToken: getEnv("LEDGER_API_TOKEN", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		MaxOpenChannels: getEnvInt("MAX_OPEN_CHANNELS", 50),
		ChannelTimeout:  getEnvDuration("CHANNEL_TIMEOUT", 5*time.Minute),

		SimulatorMode:  getEnv("SIMULATOR_MODE", "auto"),
		SimulatorDelay: getEnvDuration("SIMULATOR_DELAY", 2*time.Second),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret: getEnv("JWT_SECRET", "gex-default-dev-secret-change-me"),

		TerminalPINHash: getEnv("TERMINAL_PIN_HASH", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
