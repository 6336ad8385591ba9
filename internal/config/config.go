// Package config loads the dispatcher configuration from environment
// variables with sensible defaults.
//
// Environment variables:
//
// Application:
//   - PORT: operator API port (default: 8080)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//
// Rate limiting:
//   - RATE_LIMIT_BACKEND: "local" or "redis" (default: local)
//   - GLOBAL_RATE_LIMIT / GLOBAL_RATE_WINDOW: shared quota (default: 300 per 1m)
//   - TENANT_RATE_LIMIT / TENANT_RATE_WINDOW: per-tenant quota (default: 60 per 1m)
//   - RATE_BURST_ALLOWANCE: extra capacity on top of each limit (default: 0)
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB: redis backend connection
//
// Circuit breaker:
//   - CIRCUIT_FAILURE_THRESHOLD (default: 5), CIRCUIT_OPEN_DURATION (default: 60s)
//   - CIRCUIT_HALF_OPEN_REQUESTS (default: 1), CIRCUIT_SUCCESS_THRESHOLD (default: 2)
//   - GLOBAL_CIRCUIT_FAILURE_THRESHOLD (default: 20)
//
// Processor:
//   - MAX_CONCURRENCY (default: 5), MAX_BATCH_SIZE (default: 10)
//   - MAX_ATTEMPTS (default: 3), CALL_TIMEOUT (default: 30s)
//   - MAX_QUEUE_RESIDENCY (default: 0, disabled)
//
// Health:
//   - HEALTH_WINDOW (default: 5m)
//   - DEGRADED_SUCCESS_RATE (default: 0.90), CRITICAL_SUCCESS_RATE (default: 0.50)
//   - DEGRADED_QUEUE_DEPTH (default: 50), CRITICAL_QUEUE_DEPTH (default: 100)
//
// Storage and messaging:
//   - DATABASE_TYPE: "sqlite", "postgres" or "none" (default: sqlite)
//   - DATABASE_PATH: sqlite file (default: ./dispatcher.db)
//   - POSTGRES_DSN: postgres connection string
//   - RABBITMQ_URL: result publication broker, empty disables publishing
//
// Security:
//   - JWT_SECRET: operator API token secret (required, min 32 chars)
//   - CREDENTIAL_ENCRYPTION_KEY: credential-at-rest passphrase (required)
//
// Maintenance:
//   - SWEEP_SCHEDULE (default: */10 * * * *), SNAPSHOT_SCHEDULE (default: * * * * *)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the dispatcher.
type Config struct {
	Port     int
	LogLevel string

	RateLimitBackend   string
	GlobalRateLimit    int
	GlobalRateWindow   time.Duration
	TenantRateLimit    int
	TenantRateWindow   time.Duration
	RateBurstAllowance int
	RedisAddress       string
	RedisPassword      string
	RedisDB            int

	CircuitFailureThreshold       int
	CircuitOpenDuration           time.Duration
	CircuitHalfOpenRequests       int
	CircuitSuccessThreshold       int
	GlobalCircuitFailureThreshold int

	MaxConcurrency    int
	MaxBatchSize      int
	MaxAttempts       int
	CallTimeout       time.Duration
	MaxQueueResidency time.Duration

	HealthWindow        time.Duration
	DegradedSuccessRate float64
	CriticalSuccessRate float64
	DegradedQueueDepth  int
	CriticalQueueDepth  int

	DatabaseType string
	DatabasePath string
	PostgresDSN  string
	RabbitMQURL  string

	JWTSecret               string
	CredentialEncryptionKey string

	SweepSchedule    string
	SnapshotSchedule string
}

// Load reads the environment. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getIntEnv("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RateLimitBackend:   getEnv("RATE_LIMIT_BACKEND", "local"),
		GlobalRateLimit:    getIntEnv("GLOBAL_RATE_LIMIT", 300),
		GlobalRateWindow:   getDurationEnv("GLOBAL_RATE_WINDOW", time.Minute),
		TenantRateLimit:    getIntEnv("TENANT_RATE_LIMIT", 60),
		TenantRateWindow:   getDurationEnv("TENANT_RATE_WINDOW", time.Minute),
		RateBurstAllowance: getIntEnv("RATE_BURST_ALLOWANCE", 0),
		RedisAddress:       getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getIntEnv("REDIS_DB", 0),

		CircuitFailureThreshold:       getIntEnv("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitOpenDuration:           getDurationEnv("CIRCUIT_OPEN_DURATION", 60*time.Second),
		CircuitHalfOpenRequests:       getIntEnv("CIRCUIT_HALF_OPEN_REQUESTS", 1),
		CircuitSuccessThreshold:       getIntEnv("CIRCUIT_SUCCESS_THRESHOLD", 2),
		GlobalCircuitFailureThreshold: getIntEnv("GLOBAL_CIRCUIT_FAILURE_THRESHOLD", 20),

		MaxConcurrency:    getIntEnv("MAX_CONCURRENCY", 5),
		MaxBatchSize:      getIntEnv("MAX_BATCH_SIZE", 10),
		MaxAttempts:       getIntEnv("MAX_ATTEMPTS", 3),
		CallTimeout:       getDurationEnv("CALL_TIMEOUT", 30*time.Second),
		MaxQueueResidency: getDurationEnv("MAX_QUEUE_RESIDENCY", 0),

		HealthWindow:        getDurationEnv("HEALTH_WINDOW", 5*time.Minute),
		DegradedSuccessRate: getFloatEnv("DEGRADED_SUCCESS_RATE", 0.90),
		CriticalSuccessRate: getFloatEnv("CRITICAL_SUCCESS_RATE", 0.50),
		DegradedQueueDepth:  getIntEnv("DEGRADED_QUEUE_DEPTH", 50),
		CriticalQueueDepth:  getIntEnv("CRITICAL_QUEUE_DEPTH", 100),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./dispatcher.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),
		RabbitMQURL:  getEnv("RABBITMQ_URL", ""),

		JWTSecret:               getEnv("JWT_SECRET", ""),
		CredentialEncryptionKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),

		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "*/10 * * * *"),
		SnapshotSchedule: getEnv("SNAPSHOT_SCHEDULE", "* * * * *"),
	}
}

// Validate checks required fields and cross-field consistency.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
	}
	if c.CredentialEncryptionKey == "" {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}

	switch c.RateLimitBackend {
	case "local":
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when RATE_LIMIT_BACKEND is redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis, got %q", c.RateLimitBackend)
	}

	switch c.DatabaseType {
	case "sqlite", "none":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DATABASE_TYPE is postgres")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be sqlite, postgres or none, got %q", c.DatabaseType)
	}

	if c.GlobalRateLimit <= 0 || c.TenantRateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.MaxConcurrency <= 0 || c.MaxBatchSize <= 0 || c.MaxAttempts <= 0 {
		return fmt.Errorf("processor settings must be positive")
	}
	if c.DegradedSuccessRate <= c.CriticalSuccessRate {
		return fmt.Errorf("DEGRADED_SUCCESS_RATE must be above CRITICAL_SUCCESS_RATE")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
