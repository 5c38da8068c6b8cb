package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Stride assistant service.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Model     ModelConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Audit     AuditConfig
	Reminders ReminderConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	// URL is the Postgres connection string. Empty means the in-memory
	// store is used (local dev, tests).
	URL            string
	MaxConnections int
}

type RedisConfig struct {
	// URL enables the shared Redis-backed rate buckets and session store.
	// Empty means in-process implementations behind the same interfaces.
	URL string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type ModelConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type RateLimitConfig struct {
	PerMinute int
	Burst     int
	PerHour   int
}

type SessionConfig struct {
	TTL         time.Duration
	MaxMessages int
	// OrdinalScope is "global" (ordinals index the last result set shown)
	// or "per_type" (ordinals index the last results of the named type).
	OrdinalScope string
}

type AuditConfig struct {
	BatchSize  int
	MaxDelay   time.Duration
	MaxRetries int
}

type ReminderConfig struct {
	SweepInterval time.Duration
	SweepLimit    int
}

type NotifyConfig struct {
	// PushWebhookURL enables the push channel: notifications are posted to
	// this endpoint for the external push gateway to fan out. Empty
	// disables the channel.
	PushWebhookURL    string
	PushWebhookSecret string

	// EmailWebhookURL enables the email channel via the external mail
	// relay, same contract as the push webhook. Empty disables it.
	EmailWebhookURL    string
	EmailWebhookSecret string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("STRIDE_PORT", 8080),
		Version: envStr("STRIDE_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Redis: RedisConfig{
			URL: envStr("REDIS_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "stride-assistant"),
		},
		Model: ModelConfig{
			APIKey:      envStr("OPENAI_API_KEY", ""),
			Model:       envStr("STRIDE_MODEL", "gpt-4o-mini"),
			MaxTokens:   envInt("STRIDE_MODEL_MAX_TOKENS", 1024),
			Temperature: envFloat("STRIDE_MODEL_TEMPERATURE", 0.2),
			Timeout:     envDur("STRIDE_MODEL_TIMEOUT", 20*time.Second),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("STRIDE_RATE_PER_MINUTE", 60),
			Burst:     envInt("STRIDE_RATE_BURST", 10),
			PerHour:   envInt("STRIDE_RATE_PER_HOUR", 1000),
		},
		Session: SessionConfig{
			TTL:          envDur("STRIDE_SESSION_TTL", 30*time.Minute),
			MaxMessages:  envInt("STRIDE_SESSION_MAX_MESSAGES", 20),
			OrdinalScope: envStr("STRIDE_SESSION_ORDINAL_SCOPE", "global"),
		},
		Audit: AuditConfig{
			BatchSize:  envInt("STRIDE_AUDIT_BATCH_SIZE", 50),
			MaxDelay:   envDur("STRIDE_AUDIT_MAX_DELAY", 5*time.Second),
			MaxRetries: envInt("STRIDE_AUDIT_MAX_RETRIES", 3),
		},
		Reminders: ReminderConfig{
			SweepInterval: envDur("STRIDE_REMINDER_SWEEP_INTERVAL", time.Minute),
			SweepLimit:    envInt("STRIDE_REMINDER_SWEEP_LIMIT", 200),
		},
		Notify: NotifyConfig{
			PushWebhookURL:     envStr("STRIDE_PUSH_WEBHOOK_URL", ""),
			PushWebhookSecret:  envStr("STRIDE_PUSH_WEBHOOK_SECRET", ""),
			EmailWebhookURL:    envStr("STRIDE_EMAIL_WEBHOOK_URL", ""),
			EmailWebhookSecret: envStr("STRIDE_EMAIL_WEBHOOK_SECRET", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
