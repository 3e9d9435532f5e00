package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/xray/service/classify"
)

// Transaction sources.
const (
	SourceHelius = "helius"
	SourceRPC    = "rpc"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	LogFormat   string
	MetricsAddr string

	// Database configuration. Stored history and watching are disabled when empty.
	DatabaseURL string

	// NATS configuration. Streaming is disabled when empty.
	NATSURL string

	// Transaction source
	Source       string
	HeliusAPIURL string
	HeliusAPIKey string
	SolanaRPCURL string

	// Pause between transaction fetches when listing from RPC.
	RPCRequestDelay time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration

	// Classification
	RentThresholdLamports int64
	LabelsFile            string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "json")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Source configuration
	cfg.Source = getEnvOrDefault("SOURCE", SourceHelius)
	cfg.HeliusAPIURL = getEnvOrDefault("HELIUS_API_URL", "https://api.helius.xyz")
	cfg.HeliusAPIKey = os.Getenv("HELIUS_API_KEY")
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")

	rpcDelay, err := parseDuration("RPC_REQUEST_DELAY", "150ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRequestDelay = rpcDelay
	}

	switch cfg.Source {
	case SourceHelius:
		if cfg.HeliusAPIKey == "" {
			errs = append(errs, fmt.Errorf("HELIUS_API_KEY is required when SOURCE=helius"))
		}
	case SourceRPC:
		if cfg.SolanaRPCURL == "" {
			errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required when SOURCE=rpc"))
		}
	default:
		errs = append(errs, fmt.Errorf("SOURCE must be %s or %s, got %q", SourceHelius, SourceRPC, cfg.Source))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "xray-address-watch")

	// Polling configuration
	defaultInterval, err := parseDuration("DEFAULT_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPollInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	if cfg.MinPollInterval > cfg.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than DEFAULT_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.DefaultPollInterval))
	}

	// Classification
	rent, err := parseInt64("RENT_THRESHOLD_LAMPORTS", classify.DefaultRentThreshold)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RentThresholdLamports = rent
	}
	cfg.LabelsFile = os.Getenv("LABELS_FILE")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	switch c.Source {
	case SourceHelius:
		if c.HeliusAPIKey == "" {
			errs = append(errs, fmt.Errorf("HeliusAPIKey is required for the helius source"))
		}
	case SourceRPC:
		if c.SolanaRPCURL == "" {
			errs = append(errs, fmt.Errorf("SolanaRPCURL is required for the rpc source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than DefaultPollInterval"))
	}

	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RequireDatabase reports an error when no database is configured. The worker
// cannot run without one.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// ClassifyOptions returns the classification options derived from the config.
func (c *Config) ClassifyOptions() classify.Options {
	opts := classify.DefaultOptions()
	opts.RentThreshold = c.RentThresholdLamports
	return opts
}

// LoadLabels returns the label table: the built-in table merged with LabelsFile
// when one is configured.
func (c *Config) LoadLabels() (*classify.Labels, error) {
	if c.LabelsFile == "" {
		return classify.DefaultLabels(), nil
	}
	return classify.LoadLabels(c.LabelsFile)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt64 parses an integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
