package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Log discovery
	LogDirs   []string // Extra roots to search for Copilot log files (in addition to the standard VS Code locations)
	OwnLogDir string   // Host extension's own log directory; the Copilot log dir is resolved as its sibling. Empty means derive from discovery.

	// Scanner settings
	DebounceInterval   time.Duration // How long to coalesce change notifications before scanning
	ForceFlushInterval time.Duration // How often to scan regardless of notifications
	HistoryEnabled     bool          // Scan pre-existing log files on startup
	HistoryWorkers     int           // Concurrent workers for the historical scan

	// Event store
	EventDBPath string // Path to the bbolt event database ("" keeps events in memory only)

	// Observability
	LogLevel        string
	LogFile         string
	TracingEnabled  bool
	TracingProtocol string
	TracingEndpoint string

	// Model display names
	ModelMapPath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		LogDirs:   parsePathList(getEnv("COPILOT_LOG_DIRS", "")),
		OwnLogDir: getEnv("OWN_LOG_DIR", ""),

		DebounceInterval:   getEnvDuration("DEBOUNCE_INTERVAL", 500*time.Millisecond),
		ForceFlushInterval: getEnvDuration("FORCE_FLUSH_INTERVAL", 5*time.Second),
		HistoryEnabled:     getEnvBool("HISTORY_ENABLED", true),
		HistoryWorkers:     getEnvInt("HISTORY_WORKERS", 4),

		EventDBPath: getEnv("EVENT_DB_PATH", ""),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		TracingProtocol: getEnv("TRACING_PROTOCOL", "grpc"),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", ""),

		ModelMapPath: getEnv("MODEL_MAP_PATH", ""),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DebounceInterval <= 0 {
		return fmt.Errorf("DEBOUNCE_INTERVAL must be positive")
	}
	if c.ForceFlushInterval <= 0 {
		return fmt.Errorf("FORCE_FLUSH_INTERVAL must be positive")
	}
	if c.ForceFlushInterval < c.DebounceInterval {
		return fmt.Errorf("FORCE_FLUSH_INTERVAL must not be shorter than DEBOUNCE_INTERVAL")
	}
	if c.HistoryWorkers < 1 {
		return fmt.Errorf("HISTORY_WORKERS must be at least 1")
	}
	if c.TracingEnabled && c.TracingProtocol != "grpc" && c.TracingProtocol != "http" {
		return fmt.Errorf("TRACING_PROTOCOL must be 'grpc' or 'http'")
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value.
// Bare integers are treated as milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// parsePathList parses a semicolon-separated list of paths
func parsePathList(pathsStr string) []string {
	if pathsStr == "" {
		return nil
	}

	paths := strings.Split(pathsStr, ";")
	result := make([]string, 0, len(paths))

	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
