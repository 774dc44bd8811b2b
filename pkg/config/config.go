// Package config loads Warden configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veilnet/warden/pkg/observability"
	"github.com/veilnet/warden/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      storage.Config
	Redis         RedisConfig
	Observability ObservabilityConfig
	Admin         AdminConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	Audit         AuditConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds Redis settings for distributed rate limiting
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ObservabilityConfig holds logging/metrics/tracing settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	OTel           observability.OTelConfig
}

// AdminConfig holds the legacy admin allow-list and bootstrap settings.
// Identities listed here bypass RBAC/ABAC entirely; this is the ops
// escape hatch checked first in every evaluation.
type AdminConfig struct {
	TelegramIDs []int64
	Emails      []string

	// BootstrapUserIDs receive the Superadmin system role at startup
	BootstrapUserIDs []int64
}

// RateLimitConfig holds API rate limit settings
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// CacheConfig holds permission decision cache settings
type CacheConfig struct {
	Enabled bool
	Size    int
	TTL     time.Duration
}

// AuditConfig holds audit log retention settings
type AuditConfig struct {
	RetentionDays   int
	CleanupSchedule string
}

// IsLegacyAdmin reports whether the identity matches the static admin
// allow-list. Unverified emails never match.
func (a AdminConfig) IsLegacyAdmin(telegramID int64, email string, emailVerified bool) bool {
	for _, id := range a.TelegramIDs {
		if id != 0 && id == telegramID {
			return true
		}
	}
	if email == "" || !emailVerified {
		return false
	}
	for _, e := range a.Emails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
			Port:            getEnv("WARDEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Enabled:  getEnvBool("WARDEN_REDIS_ENABLED", false),
			Addr:     getEnv("WARDEN_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("WARDEN_REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("WARDEN_METRICS_ENABLED", true),
			OTel: observability.OTelConfig{
				Enabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
				Endpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
				ServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
				ServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "dev"),
				Insecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
			},
		},
		Admin: AdminConfig{
			TelegramIDs:      getEnvInt64List("WARDEN_ADMIN_TELEGRAM_IDS"),
			Emails:           getEnvList("WARDEN_ADMIN_EMAILS"),
			BootstrapUserIDs: getEnvInt64List("WARDEN_BOOTSTRAP_USER_IDS"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("WARDEN_RATE_LIMIT_REQUESTS", 300),
			WindowDuration:    getEnvDuration("WARDEN_RATE_LIMIT_WINDOW", time.Minute),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("WARDEN_DECISION_CACHE_ENABLED", true),
			Size:    getEnvInt("WARDEN_DECISION_CACHE_SIZE", 4096),
			TTL:     getEnvDuration("WARDEN_DECISION_CACHE_TTL", 30*time.Second),
		},
		Audit: AuditConfig{
			RetentionDays:   getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", 180),
			CleanupSchedule: getEnv("WARDEN_AUDIT_CLEANUP_SCHEDULE", "0 4 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDatabaseConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.URL = getEnv("WARDEN_POSTGRES_URL", "")
	if maxConns := getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("WARDEN_POSTGRES_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if lifetime := getEnvDuration("WARDEN_POSTGRES_CONN_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	return cfg
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("WARDEN_POSTGRES_URL is required")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("WARDEN_RATE_LIMIT_REQUESTS must be positive")
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("WARDEN_DECISION_CACHE_SIZE must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("WARDEN_AUDIT_RETENTION_DAYS must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt64List(key string) []int64 {
	var out []int64
	for _, part := range getEnvList(key) {
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}
