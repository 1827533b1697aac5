package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                    string
	DatabaseURL             string
	ChannelSecret           string
	ChannelAccessToken      string
	AdminPasswordHash       string
	SessionTTL              time.Duration
	StorageTimeout          time.Duration
	RateLimitPerMinute      int
	RateLimitBurst          int
	OwnerRateLimitPerMinute int
	OwnerRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                    port,
		DatabaseURL:             os.Getenv("DB_DSN"),
		ChannelSecret:           os.Getenv("CHANNEL_SECRET"),
		ChannelAccessToken:      os.Getenv("CHANNEL_ACCESS_TOKEN"),
		AdminPasswordHash:       os.Getenv("ADMIN_PASSWORD_HASH"),
		SessionTTL:              readDurationSeconds("SESSION_TTL_SECONDS", 3600),
		StorageTimeout:          readDurationSeconds("STORAGE_TIMEOUT_SECONDS", 5),
		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		OwnerRateLimitPerMinute: readInt("OWNER_RATE_LIMIT_PER_MIN", 20),
		OwnerRateLimitBurst:     readInt("OWNER_RATE_LIMIT_BURST", 10),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
