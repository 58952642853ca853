// Package config reads service settings from the environment. Every getter
// falls back to its default on absent or unparseable values, so a worker never
// refuses to start over a typo in an optional variable; required settings are
// validated by their owning component, not here.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvStr returns the value of key, or fallback when unset.
func GetEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

// GetEnvInt returns key parsed as an int, or fallback.
func GetEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return parsed
}

// GetEnvInt64 returns key parsed as an int64, or fallback.
func GetEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

// GetEnvBool returns key parsed as a bool (per strconv.ParseBool), or
// fallback.
func GetEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}

	return parsed
}

// GetEnvDuration returns key parsed as a time.Duration ("250ms", "30s"), or
// fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return parsed
}

// GetEnvLogLevel returns key parsed as an slog level name ("debug", "info",
// "warn", "error", case-insensitive), or fallback.
func GetEnvLogLevel(key string, fallback slog.Level) slog.Level {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return fallback
	}

	return level
}

// ParseCommaSeparatedList splits input on commas into trimmed, non-empty
// elements.
func ParseCommaSeparatedList(input string) []string {
	result := make([]string, 0)

	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
