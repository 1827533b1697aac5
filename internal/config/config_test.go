package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_DSN", "SESSION_TTL_SECONDS", "STORAGE_TIMEOUT_SECONDS", "RATE_LIMIT_PER_MIN", "OWNER_RATE_LIMIT_PER_MIN"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.StorageTimeout != 5*time.Second {
		t.Fatalf("StorageTimeout = %v, want 5s", cfg.StorageTimeout)
	}
	if cfg.RateLimitPerMinute != 120 || cfg.RateLimitBurst != 30 {
		t.Fatalf("ip limits = %d/%d, want 120/30", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	if cfg.OwnerRateLimitPerMinute != 20 || cfg.OwnerRateLimitBurst != 10 {
		t.Fatalf("owner limits = %d/%d, want 20/10", cfg.OwnerRateLimitPerMinute, cfg.OwnerRateLimitBurst)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DSN", "postgres://localhost/queue")
	t.Setenv("SESSION_TTL_SECONDS", "120")
	t.Setenv("STORAGE_TIMEOUT_SECONDS", "0")
	t.Setenv("RATE_LIMIT_PER_MIN", "not-a-number")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://localhost/queue" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.SessionTTL != 2*time.Minute {
		t.Fatalf("SessionTTL = %v, want 2m", cfg.SessionTTL)
	}
	if cfg.StorageTimeout != 0 {
		t.Fatalf("StorageTimeout = %v, want 0 (disabled)", cfg.StorageTimeout)
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Fatalf("malformed int should fall back, got %d", cfg.RateLimitPerMinute)
	}
}
