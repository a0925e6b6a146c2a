package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GetEnvString retrieves a string from environment variables or returns the default value.
func GetEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves an integer from environment variables or returns the default value.
func GetEnvInt(key string, defaultValue int) int {
	valStr := strings.TrimSpace(os.Getenv(key))
	if valStr == "" {
		return defaultValue
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valStr).Msg("Ignoring non-integer environment value")
		return defaultValue
	}
	return val
}

// GetEnvDuration retrieves a duration from environment variables or returns the default value.
// Values with a unit ("90s", "15m") are parsed with time.ParseDuration; a bare
// integer is taken as seconds.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := strings.TrimSpace(os.Getenv(key))
	if valStr == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	val, err := time.ParseDuration(valStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valStr).Msg("Ignoring invalid duration environment value")
		return defaultValue
	}
	return val
}
