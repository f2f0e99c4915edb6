package services

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	value := GetEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer in env, using fallback")
		return fallback
	}
	return parsed
}

func GetEnvInt64(key string, fallback int64) int64 {
	value := GetEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer in env, using fallback")
		return fallback
	}
	return parsed
}

// GetEnvDuration accepts Go durations ("75s") or plain seconds ("75").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(GetEnv(key, ""))
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration in env, using fallback")
		return fallback
	}
	return parsed
}

// LoadEnvFile loads variables from the given files. Missing files are skipped
// and variables already present in the environment are kept.
func LoadEnvFile(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to load env file")
			continue
		}
		log.Debug().Str("path", path).Msg("loaded env file")
	}
}
