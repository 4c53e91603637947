// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"qrlogin-service/internal/pkg/jwt"
)

type AppConfig struct {
	// Server
	HTTPAddr       string
	AllowedOrigins []string

	// Backing stores
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	DatabaseURL string

	// QR payload sealing
	QRSecret string

	// Protocol timings
	SessionTTL       time.Duration
	PollInterval     time.Duration
	SweepInterval    time.Duration
	RecordRetention  time.Duration
	AuditRetention   time.Duration
	ExchangeTTL      time.Duration

	// JWT login tickets
	JWT jwt.Config
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", nil),

		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASS", ""),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		QRSecret: getEnv("QR_SECRET", ""),

		SessionTTL:      getEnvDuration("QR_SESSION_TTL", 90*time.Second),
		PollInterval:    getEnvDuration("QR_POLL_INTERVAL", 2*time.Second),
		SweepInterval:   getEnvDuration("QR_SWEEP_INTERVAL", 3*time.Second),
		RecordRetention: getEnvDuration("QR_RECORD_RETENTION", 5*time.Minute),
		AuditRetention:  getEnvDuration("QR_AUDIT_RETENTION", 90*24*time.Hour),
		ExchangeTTL:     getEnvDuration("AUTH_SESSION_TTL", 24*time.Hour),

		JWT: jwt.Config{
			PrivPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
			PubPath:  getEnv("JWT_PUBLIC_KEY_PATH", ""),
			Issuer:   getEnv("JWT_ISSUER", "qrlogin-service"),
			Audience: getEnv("JWT_AUDIENCE", "identity-provider"),
			TTL:      getEnvDuration("JWT_TICKET_TTL", 2*time.Minute),
			KID:      getEnv("JWT_KID", "qrlogin-key"),
		},
	}
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
