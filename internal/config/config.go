// Package config provides configuration loading from environment variables
// and an optional YAML file.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// ServiceConfig holds configuration for the rombuilder service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // readiness fails this long before listeners stop; 0 skips
	ShutdownTimeout   time.Duration // in-flight request budget
	LogLevel          slog.Level
	Runner            string // "github", "docker" or "fake"
	MaxConcurrentJobs int    // 0 disables the limit
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownTimeout:   GetDurationEnv("SHUTDOWN_TIMEOUT", 25*time.Second),
		LogLevel:          ParseLevel(GetEnv("LOG_LEVEL", "info")),
		Runner:            strings.ToLower(GetEnv("RUNNER", "github")),
		MaxConcurrentJobs: GetIntEnv("MAX_CONCURRENT_JOBS", 3),
	}
}

// ParseLevel converts a level name into a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
