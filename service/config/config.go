package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Osmosis endpoints. RPCURL is optional; when set, transactions are
	// submitted over CometBFT JSON-RPC instead of the LCD REST API.
	IndexerURL string
	NodeURL    string
	RPCURL     string
	Network    string
	Denom      string
	CurrencyID string

	// Sync configuration
	SyncPageSize int
	SyncMaxPages int

	// Transaction configuration
	DefaultGasLimit uint64

	// Outbound HTTP
	HTTPRequestsPerSecond float64
	HTTPTimeout           time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Scheduling configuration
	DefaultSyncInterval time.Duration
	MinSyncInterval     time.Duration
}

// LoadDotEnv loads variables from the given files (".env" when none are given)
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	if err := LoadDotEnv(); err != nil {
		errs = append(errs, err)
	}

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Osmosis configuration
	cfg.IndexerURL = os.Getenv("OSMOSIS_INDEXER_URL")
	if cfg.IndexerURL == "" {
		errs = append(errs, fmt.Errorf("OSMOSIS_INDEXER_URL is required"))
	}
	cfg.NodeURL = os.Getenv("OSMOSIS_NODE_URL")
	if cfg.NodeURL == "" {
		errs = append(errs, fmt.Errorf("OSMOSIS_NODE_URL is required"))
	}
	cfg.RPCURL = os.Getenv("OSMOSIS_RPC_URL")
	cfg.Network = getEnvOrDefault("OSMOSIS_NETWORK", "mainnet")
	cfg.Denom = getEnvOrDefault("OSMOSIS_DENOM", "uosmo")
	cfg.CurrencyID = getEnvOrDefault("OSMOSIS_CURRENCY_ID", "osmosis")

	// Sync configuration
	pageSize, err := parseInt("SYNC_PAGE_SIZE", 200)
	if err != nil {
		errs = append(errs, err)
	} else if pageSize <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", pageSize))
	}
	cfg.SyncPageSize = pageSize

	maxPages, err := parseInt("SYNC_MAX_PAGES", 20)
	if err != nil {
		errs = append(errs, err)
	} else if maxPages <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_MAX_PAGES must be positive, got %d", maxPages))
	}
	cfg.SyncMaxPages = maxPages

	gas, err := parseUint("DEFAULT_GAS_LIMIT", 100000)
	if err != nil {
		errs = append(errs, err)
	} else if gas == 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_GAS_LIMIT must be positive"))
	}
	cfg.DefaultGasLimit = gas

	// Outbound HTTP
	rps, err := parseFloat("HTTP_REQUESTS_PER_SECOND", 5)
	if err != nil {
		errs = append(errs, err)
	} else if rps <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_REQUESTS_PER_SECOND must be positive, got %v", rps))
	}
	cfg.HTTPRequestsPerSecond = rps

	timeout, err := parseDuration("HTTP_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HTTPTimeout = timeout
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "osmosync-account-sync")

	// Scheduling configuration
	defaultInterval, err := parseDuration("DEFAULT_SYNC_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultSyncInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_SYNC_INTERVAL", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinSyncInterval = minInterval
	}

	// Validate intervals
	if cfg.MinSyncInterval > cfg.DefaultSyncInterval {
		errs = append(errs, fmt.Errorf("MIN_SYNC_INTERVAL (%v) cannot be greater than DEFAULT_SYNC_INTERVAL (%v)",
			cfg.MinSyncInterval, cfg.DefaultSyncInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
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

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.IndexerURL == "" {
		errs = append(errs, fmt.Errorf("IndexerURL is required"))
	}

	if c.NodeURL == "" {
		errs = append(errs, fmt.Errorf("NodeURL is required"))
	}

	if c.SyncPageSize <= 0 {
		errs = append(errs, fmt.Errorf("SyncPageSize must be positive"))
	}

	if c.SyncMaxPages <= 0 {
		errs = append(errs, fmt.Errorf("SyncMaxPages must be positive"))
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

	if c.MinSyncInterval > c.DefaultSyncInterval {
		errs = append(errs, fmt.Errorf("MinSyncInterval cannot be greater than DefaultSyncInterval"))
	}

	if c.DefaultSyncInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultSyncInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
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

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
