// Package config provides configuration management for the hazard
// aggregation service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config enumerates every recognized option. There is no dynamic
// configuration bag: an unrecognized concern is a code change, not a new
// map key.
type Config struct {
	DataDir       string // Base directory for datasets and downloads (always absolute)
	DatasetPath   string // Realization dataset: local sqlite path or s3://bucket/key
	AggregatePath string // Aggregate output store; defaults to the dataset file itself
	LogicTreePath string // YAML logic tree definition
	ScratchDir    string // Optional scratch dir for matrix handoff ("" = in-memory)

	Locations  []string // Coded site locations to aggregate
	IMTs       []string // Intensity measure types to aggregate
	Statistics []string // Aggregate statistics ("mean", "std", "cov", quantile fractions)

	QuantileRule string // Weighted quantile rule: "nearest" or "linear"

	NumWorkers    int           // 0 = size from host CPU count
	RetryAttempts int           // Bounded retries for transient store errors
	RetryBackoff  time.Duration // Initial backoff, doubled per attempt

	LogLevel   string
	Port       int
	DevMode    bool
	RunOnStart bool // Execute one aggregation run at startup (dispatch-message mode)
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("THP_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		DatasetPath:   getEnv("THP_DATASET", filepath.Join(absDataDir, "realizations.db")),
		AggregatePath: getEnv("THP_AGGREGATE_STORE", ""),
		LogicTreePath: getEnv("THP_LOGIC_TREE", filepath.Join(absDataDir, "logic_tree.yaml")),
		ScratchDir:    getEnv("THP_SCRATCH_DIR", ""),
		Locations:     getEnvAsList("THP_LOCATIONS", nil),
		IMTs:          getEnvAsList("THP_IMTS", nil),
		Statistics:    getEnvAsList("THP_AGG_STATS", []string{"mean", "0.1", "0.5", "0.9"}),
		QuantileRule:  getEnv("THP_QUANTILE_RULE", "nearest"),
		NumWorkers:    getEnvAsInt("THP_NUM_WORKERS", 0),
		RetryAttempts: getEnvAsInt("THP_STORE_RETRY_ATTEMPTS", 3),
		RetryBackoff:  time.Duration(getEnvAsInt("THP_STORE_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("THP_PORT", 8080),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		RunOnStart:    getEnvAsBool("THP_RUN_ON_START", false),
	}

	if cfg.AggregatePath == "" {
		// Aggregates land next to the realizations they came from, so one
		// run produces one artifact.
		cfg.AggregatePath = cfg.DatasetPath
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("THP_STORE_RETRY_ATTEMPTS must be at least 1, got %d", cfg.RetryAttempts)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value with a fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer with a fallback
func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsBool retrieves an environment variable as a boolean with a fallback
func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsList retrieves a comma-separated environment variable as a slice,
// trimming whitespace and dropping empty elements.
func getEnvAsList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
