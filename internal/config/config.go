// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration. LeagueID and PollInterval are only
// defaults: once an operator changes them they live in the settings store.
type Config struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	RedisCacheTTL   time.Duration
	SteamAPIKey     string
	SteamBaseURL    string
	SteamTimeout    time.Duration
	SteamMaxRetries uint64
	LeagueID        int64
	PollInterval    time.Duration
	IngestMaxPages  int
	StartingBalance int64
	CORSEnabled     bool
}

// Load reads the environment. Unparseable values fall back to defaults;
// values that parse but are out of range are errors.
func Load() (Config, error) {
	addr := envDefault("PORT", "8080")
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}

	maxRetries := envIntDefault("STEAM_MAX_RETRIES", 3)

	cfg := Config{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisCacheTTL:   envDurationDefault("REDIS_CACHE_TTL", 30*time.Second),
		SteamAPIKey:     strings.TrimSpace(os.Getenv("STEAM_API_KEY")),
		SteamBaseURL:    strings.TrimRight(envDefault("STEAM_API_BASE_URL", "https://api.steampowered.com"), "/"),
		SteamTimeout:    envDurationDefault("STEAM_HTTP_TIMEOUT", 15*time.Second),
		SteamMaxRetries: uint64(max(maxRetries, 0)),
		LeagueID:        envIntDefault("LEAGUE_ID", 0),
		PollInterval:    envDurationDefault("POLL_INTERVAL", 10*time.Minute),
		IngestMaxPages:  int(envIntDefault("INGEST_MAX_PAGES", 20)),
		StartingBalance: envIntDefault("STARTING_BALANCE", 200),
		CORSEnabled:     envBoolDefault("CORS_ENABLED", false),
	}

	if cfg.PollInterval < time.Second {
		return cfg, fmt.Errorf("POLL_INTERVAL must be at least 1s, got %s", cfg.PollInterval)
	}
	if cfg.StartingBalance <= 0 {
		return cfg, fmt.Errorf("STARTING_BALANCE must be positive, got %d", cfg.StartingBalance)
	}
	if cfg.IngestMaxPages <= 0 {
		return cfg, fmt.Errorf("INGEST_MAX_PAGES must be positive, got %d", cfg.IngestMaxPages)
	}
	if maxRetries < 0 {
		return cfg, fmt.Errorf("STEAM_MAX_RETRIES must not be negative, got %d", maxRetries)
	}
	if cfg.LeagueID < 0 {
		return cfg, fmt.Errorf("LEAGUE_ID must not be negative, got %d", cfg.LeagueID)
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
