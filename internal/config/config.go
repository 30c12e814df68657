// Package config loads process configuration from environment variables:
// DATABASE_URL, JWT_SECRET and HOUSE_ACCOUNT_ID have no fallback and abort
// startup if missing; everything else, including the optional REDIS_URL,
// gets a safe default.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the full set of environment-derived settings cmd/arena needs.
type Config struct {
	DatabaseURL    string
	RedisURL       string // optional; empty disables the idempotency cache
	JWTSecret      string
	HouseAccountID string
	Port           string
	TickRate       int
	MapRadius      float64
	EnvName        string
	LogLevel       string
}

// Load reads Config from the environment, returning an error naming the
// first missing required variable instead of calling os.Exit, so callers
// (including tests) can handle failure themselves.
func Load() (Config, error) {
	dbURL, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := requireEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	houseAccount, err := requireEnv("HOUSE_ACCOUNT_ID")
	if err != nil {
		return Config{}, err
	}

	tickRate, err := strconv.Atoi(getEnvOrDefault("TICK_RATE", "30"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TICK_RATE: %w", err)
	}
	mapRadius, err := strconv.ParseFloat(getEnvOrDefault("MAP_RADIUS", "1000.0"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MAP_RADIUS: %w", err)
	}

	return Config{
		DatabaseURL:    dbURL,
		RedisURL:       getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:      jwtSecret,
		HouseAccountID: houseAccount,
		Port:           getEnvOrDefault("PORT", "8080"),
		TickRate:       tickRate,
		MapRadius:      mapRadius,
		EnvName:        getEnvOrDefault("ENV_NAME", "development"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", ""),
	}, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return val, nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
