// Package config loads service configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by the Drift services.
type Config struct {
	// Stores
	RedisURL    string
	DatabaseURL string
	NATSURL     string

	// Observability
	MetricsAddr string

	// Fallback scheduler
	FallbackPollInterval time.Duration
	FallbackTimeout      time.Duration
	FallbackGreetDelay   time.Duration
}

// Load reads configuration from the environment. A .env file is loaded
// first if present.
func Load() *Config {
	godotenv.Load()

	return &Config{
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/drift?sslmode=disable"),
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),

		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),

		FallbackPollInterval: getEnvSeconds("FALLBACK_POLL_SECONDS", 3),
		FallbackTimeout:      getEnvSeconds("FALLBACK_TIMEOUT_SECONDS", 10),
		FallbackGreetDelay:   getEnvSeconds("FALLBACK_GREET_DELAY_SECONDS", 2),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultValue) * time.Second
}
