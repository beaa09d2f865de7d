package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr             string
	LogLevel         string
	RedisURL         string
	DatabaseURL      string
	SessionSecret    string
	AuthServiceURL   string
	DevMode          bool
	AWSRegion        string
	SecretsPrefix    string
	AlertTopicArn    string
	AuditQueueURL    string
	OTLPEndpoint     string
	AdminAuthEnabled bool
	AdminPassword    string
	BillingCacheTTL  time.Duration
	ShutdownTimeout  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getEnv("ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RedisURL:         getEnv("REDIS_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SessionSecret:    getEnv("SESSION_SECRET", ""),
		AuthServiceURL:   getEnv("AUTH_SERVICE_URL", ""),
		DevMode:          getEnv("DEV_MODE", "false") == "true",
		AWSRegion:        getEnv("AWS_REGION", ""),
		SecretsPrefix:    getEnv("SECRETS_PREFIX", ""),
		AlertTopicArn:    getEnv("ALERT_TOPIC_ARN", ""),
		AuditQueueURL:    getEnv("AUDIT_QUEUE_URL", ""),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", ""),
		AdminAuthEnabled: getEnv("ADMIN_AUTH_ENABLED", "false") == "true",
		AdminPassword:    getEnv("ADMIN_PASSWORD", "admin"),
		BillingCacheTTL:  getDurationEnv("BILLING_CACHE_TTL", 30*time.Second),
		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
