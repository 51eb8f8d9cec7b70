package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Tenant    TenantConfig
	Traversal TraversalConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache settings (schema registry + scope lookups)
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// TenantConfig holds tenant-scope and RLS enforcement settings
type TenantConfig struct {
	// Session variable names referenced by the RLS policy predicates
	OrgVar     string
	ProjectVar string

	// Strict mode makes RLS policy drift fatal at boot. Non-strict is for
	// degraded/dev environments only, never production.
	StrictPolicies bool

	// AllowWildcard permits requests without tenant headers to run under the
	// wildcard (system) scope instead of being rejected.
	AllowWildcard bool

	// TTL for the project -> organization lookup cache
	ScopeCacheTTL time.Duration
}

// TraversalConfig bounds graph expansion
type TraversalConfig struct {
	MaxDepth     int
	DefaultDepth int
	MaxNodes     int
	DefaultNodes int
	MaxEdges     int
	MaxPhases    int
	MaxRoots     int
}

// RateLimitConfig bounds expensive endpoints per tenant
type RateLimitConfig struct {
	Enabled         bool
	ExpandPerMinute int64
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "strata"),
			User:        getEnv("POSTGRES_USER", "strata"),
			Password:    getEnv("POSTGRES_PASSWORD", "strata"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Tenant: TenantConfig{
			OrgVar:         getEnv("TENANT_ORG_VAR", "app.current_org_id"),
			ProjectVar:     getEnv("TENANT_PROJECT_VAR", "app.current_project_id"),
			StrictPolicies: getEnvBool("TENANT_STRICT_POLICIES", true),
			AllowWildcard:  getEnvBool("TENANT_ALLOW_WILDCARD", false),
			ScopeCacheTTL:  getEnvDuration("TENANT_SCOPE_CACHE_TTL", 10*time.Minute),
		},
		Traversal: TraversalConfig{
			MaxDepth:     getEnvInt("TRAVERSAL_MAX_DEPTH", 6),
			DefaultDepth: getEnvInt("TRAVERSAL_DEFAULT_DEPTH", 2),
			MaxNodes:     getEnvInt("TRAVERSAL_MAX_NODES", 10000),
			DefaultNodes: getEnvInt("TRAVERSAL_DEFAULT_NODES", 500),
			MaxEdges:     getEnvInt("TRAVERSAL_MAX_EDGES", 20000),
			MaxPhases:    getEnvInt("TRAVERSAL_MAX_PHASES", 5),
			MaxRoots:     getEnvInt("TRAVERSAL_MAX_ROOTS", 100),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", false),
			ExpandPerMinute: int64(getEnvInt("RATE_LIMIT_EXPAND_PER_MINUTE", 120)),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Tenant.OrgVar == "" || c.Tenant.ProjectVar == "" {
		return fmt.Errorf("tenant session variable names are required")
	}

	if c.Traversal.MaxDepth < 1 || c.Traversal.MaxNodes < 1 {
		return fmt.Errorf("traversal bounds must be positive")
	}

	if c.Traversal.DefaultDepth > c.Traversal.MaxDepth {
		return fmt.Errorf("traversal default depth exceeds max depth")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
