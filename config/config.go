package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete gateway configuration. It is constructed
// once at startup and treated as immutable: every component receives it (or
// a sub-struct) by reference through its constructor.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Validation    ValidationConfig
	Caches        CachesConfig
	RateLimit     RateLimitConfig
	Extension     ExtensionConfig
	Audit         AuditConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Environment   string

	// TokenSalt is mixed into every stored token hash. Rotating it orphans
	// outstanding tokens, so treat it like key material.
	TokenSalt string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ValidationConfig holds the parallel-validation and timeout policy
type ValidationConfig struct {
	// FailSafeMode serves the legacy result regardless of the enhanced
	// outcome while shadow mode builds confidence.
	FailSafeMode    bool
	ParallelEnabled bool
	Timeout         time.Duration // overall budget for both paths
	ServedBudget    time.Duration // budget for the served path
	StoreRetries    int
	StoreRetryDelay time.Duration
}

// CacheConfig sizes a single cache
type CacheConfig struct {
	TTL      time.Duration
	Capacity int
}

// CachesConfig holds the three independently sized caches
type CachesConfig struct {
	Backend         string // memory or redis (validation results only)
	Validation      CacheConfig
	Tenant          CacheConfig
	Permission      CacheConfig
	CleanupInterval time.Duration
}

// RateLimitConfig maps security tiers to requests-per-window budgets
type RateLimitConfig struct {
	Window   time.Duration
	Standard int
	Elevated int
	Critical int
}

// LimitForTier returns the budget for a tier, falling back to the standard
// tier for unknown values.
func (c RateLimitConfig) LimitForTier(tier string) int {
	switch tier {
	case "elevated":
		return c.Elevated
	case "critical":
		return c.Critical
	default:
		return c.Standard
	}
}

// ExtensionConfig controls transparent token renewal
type ExtensionConfig struct {
	Threshold time.Duration // remaining TTL below which renewal triggers
	Increment time.Duration // how far expiry is pushed forward
	MaxCount  int
}

// AuditConfig holds the async audit pipeline settings
type AuditConfig struct {
	BufferSize      int
	WorkerCount     int
	CriticalTimeout time.Duration // max blocking wait for security events
	StopTimeout     time.Duration
}

// RedisConfig holds the optional Redis connection for the validation cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8443),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Validation: ValidationConfig{
			FailSafeMode:    getEnvAsBool("FAIL_SAFE_MODE", true),
			ParallelEnabled: getEnvAsBool("PARALLEL_VALIDATION_ENABLED", true),
			Timeout:         time.Duration(getEnvAsInt("VALIDATION_TIMEOUT_MS", 5000)) * time.Millisecond,
			ServedBudget:    time.Duration(getEnvAsInt("MIDDLEWARE_BUDGET_MS", 200)) * time.Millisecond,
			StoreRetries:    getEnvAsInt("STORE_RETRIES", 3),
			StoreRetryDelay: getEnvAsDuration("STORE_RETRY_DELAY", 50*time.Millisecond),
		},
		Caches: CachesConfig{
			Backend: getEnv("CACHE_BACKEND", "memory"),
			Validation: CacheConfig{
				TTL:      getEnvAsDuration("VALIDATION_CACHE_TTL", 300*time.Second),
				Capacity: getEnvAsInt("VALIDATION_CACHE_CAPACITY", 1000),
			},
			Tenant: CacheConfig{
				TTL:      getEnvAsDuration("TENANT_CACHE_TTL", 600*time.Second),
				Capacity: getEnvAsInt("TENANT_CACHE_CAPACITY", 100),
			},
			Permission: CacheConfig{
				TTL:      getEnvAsDuration("PERMISSION_CACHE_TTL", 180*time.Second),
				Capacity: getEnvAsInt("PERMISSION_CACHE_CAPACITY", 500),
			},
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour),
			Standard: getEnvAsInt("RATE_LIMIT_STANDARD", 1000),
			Elevated: getEnvAsInt("RATE_LIMIT_ELEVATED", 5000),
			Critical: getEnvAsInt("RATE_LIMIT_CRITICAL", 20000),
		},
		Extension: ExtensionConfig{
			Threshold: getEnvAsDuration("EXTENSION_THRESHOLD", 15*time.Minute),
			Increment: getEnvAsDuration("EXTENSION_INCREMENT", time.Hour),
			MaxCount:  getEnvAsInt("EXTENSION_MAX_COUNT", 3),
		},
		Audit: AuditConfig{
			BufferSize:      getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:     getEnvAsInt("AUDIT_WORKERS", 5),
			CriticalTimeout: time.Duration(getEnvAsInt("AUDIT_CRITICAL_TIMEOUT_MS", 500)) * time.Millisecond,
			StopTimeout:     getEnvAsDuration("AUDIT_STOP_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
		TokenSalt: getEnv("TOKEN_SALT", "dev-only-salt"),
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Caches.Backend != "memory" && c.Caches.Backend != "redis" {
		return fmt.Errorf("cache backend must be memory or redis, got %q", c.Caches.Backend)
	}
	if c.Caches.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when cache backend is redis")
	}

	if c.Validation.Timeout <= 0 {
		return fmt.Errorf("validation timeout must be positive")
	}
	if c.Validation.ServedBudget <= 0 || c.Validation.ServedBudget > c.Validation.Timeout {
		return fmt.Errorf("served-path budget must be positive and within the overall timeout")
	}

	if c.RateLimit.Standard <= 0 || c.RateLimit.Elevated <= 0 || c.RateLimit.Critical <= 0 {
		return fmt.Errorf("rate limit tiers must be positive")
	}

	if c.Extension.MaxCount < 0 {
		return fmt.Errorf("extension max count cannot be negative")
	}
	if c.Extension.Increment <= 0 {
		return fmt.Errorf("extension increment must be positive")
	}

	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit buffer size must be positive")
	}
	if c.Audit.WorkerCount <= 0 {
		return fmt.Errorf("audit worker count must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	if c.IsProduction() && c.TokenSalt == "dev-only-salt" {
		return fmt.Errorf("TOKEN_SALT must be set in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "gateway"),
		Password:        getEnv("DB_PASSWORD", "gateway"),
		Database:        getEnv("DB_NAME", "tokengate"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
