package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// RedisURL points at the durable session/completion store.
	RedisURL string

	// DatabaseURL is optional. When empty the result journal (and its
	// worker) is disabled and the service runs without PostgreSQL.
	DatabaseURL string
	MaxDBConns  int32

	// QuestionEndpoint is the spreadsheet-backed question/grading endpoint
	// this service relays to.
	QuestionEndpoint string

	// IPLookupURL is the external IP-echo service used by the identity
	// resolver when the client address is not a usable public IP.
	IPLookupURL string

	UpstreamTimeout time.Duration

	// StationDuration is the fixed per-station countdown budget.
	StationDuration time.Duration

	// MaxStations bounds the station-count probe.
	MaxStations int

	// SessionTTL is the staleness horizon for persisted session state.
	SessionTTL time.Duration

	// HeartbeatInterval controls periodic session persistence while a
	// station is active.
	HeartbeatInterval time.Duration

	MaxImageBytes int64

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error, .env is optional

	return &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		GinMode:           getEnv("GIN_MODE", "debug"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "pretty"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		MaxDBConns:        int32(getEnvInt("MAX_DB_CONNS", 8)),
		QuestionEndpoint:  getEnv("QUESTION_ENDPOINT", "https://questions.example.workers.dev"),
		IPLookupURL:       getEnv("IP_LOOKUP_URL", "https://api.ipify.org?format=json"),
		UpstreamTimeout:   time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 10)) * time.Second,
		StationDuration:   time.Duration(getEnvInt("STATION_SECONDS", 120)) * time.Second,
		MaxStations:       getEnvInt("MAX_STATIONS", 20),
		SessionTTL:        time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_SECONDS", 5)) * time.Second,
		MaxImageBytes:     int64(getEnvInt("MAX_IMAGE_SIZE_MB", 10)) * 1024 * 1024,
		AllowedOrigins:    parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
