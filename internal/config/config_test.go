package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "REDIS_CACHE_TTL", "STEAM_API_KEY",
		"STEAM_API_BASE_URL", "STEAM_HTTP_TIMEOUT", "STEAM_MAX_RETRIES", "LEAGUE_ID",
		"POLL_INTERVAL", "INGEST_MAX_PAGES", "STARTING_BALANCE", "CORS_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr)
	}
	if cfg.PollInterval != 10*time.Minute || cfg.StartingBalance != 200 || cfg.IngestMaxPages != 20 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.SteamBaseURL != "https://api.steampowered.com" || cfg.SteamMaxRetries != 3 {
		t.Errorf("unexpected steam defaults: %+v", cfg)
	}
	if cfg.CORSEnabled {
		t.Error("CORS should default to off")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LEAGUE_ID", "15728")
	t.Setenv("POLL_INTERVAL", "45s")
	t.Setenv("STEAM_API_BASE_URL", "http://localhost:1234/")
	t.Setenv("CORS_ENABLED", "true")
	t.Setenv("STEAM_MAX_RETRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.LeagueID != 15728 || cfg.PollInterval != 45*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SteamBaseURL != "http://localhost:1234" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.SteamBaseURL)
	}
	if !cfg.CORSEnabled {
		t.Error("expected CORS enabled")
	}
	if cfg.SteamMaxRetries != 3 {
		t.Errorf("unparseable value should fall back, got %d", cfg.SteamMaxRetries)
	}
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	tests := map[string]string{
		"POLL_INTERVAL":     "100ms",
		"STARTING_BALANCE":  "0",
		"INGEST_MAX_PAGES":  "-1",
		"LEAGUE_ID":         "-5",
		"STEAM_MAX_RETRIES": "-1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s: expected error", key, value)
			}
		})
	}
}
