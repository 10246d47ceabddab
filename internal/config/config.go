// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerHost is the host address the server will bind to.
	ServerHost string
	// ServerPort is the port number the server will listen on.
	ServerPort int

	// DBDriver is the catalog database driver ("postgres", "mysql" or "sqlite").
	DBDriver string
	// DBConnectionString is the connection string for the catalog database.
	DBConnectionString string
	// DBMaxOpenConnections is the maximum number of open connections to the database.
	DBMaxOpenConnections int
	// DBMaxIdleConnections is the maximum number of idle connections in the database pool.
	DBMaxIdleConnections int
	// DBConnMaxLifetime is the maximum amount of time a connection may be reused.
	DBConnMaxLifetime time.Duration

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string

	// CellsDir is the directory holding the per-cell storage files.
	CellsDir string

	// CryptoEnabled controls whether cell values are encrypted at rest and
	// whether the /secure endpoints are available.
	CryptoEnabled bool
	// MasterKeyPath is the location of the 32-byte master secret file.
	MasterKeyPath string
	// KeyRotationInterval is how often the derived-key cache is flushed.
	KeyRotationInterval time.Duration

	// TokenSigningKey signs access tokens. Falls back to a random key per
	// process when unset, which invalidates tokens on restart.
	TokenSigningKey string
	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration

	// CacheEnabled controls the liquid cache.
	CacheEnabled bool
	// CacheSize is the maximum number of entries across all cache layers.
	CacheSize int
	// CacheTTL is the default per-entry time to live.
	CacheTTL time.Duration
	// CacheLayers is the number of cache layers (layer 0 is hottest).
	CacheLayers int
	// CachePatternsPath is where learned query patterns are persisted.
	CachePatternsPath string

	// EventBusBootstrap is the broker address for the event bus. Empty selects
	// the in-process bus.
	EventBusBootstrap string

	// RateLimitEnabled indicates whether rate limiting for authenticated endpoints is enabled.
	RateLimitEnabled bool
	// RateLimitRequestsPerSec is the number of requests allowed per second per user.
	RateLimitRequestsPerSec float64
	// RateLimitBurst is the burst size for authenticated endpoints rate limiting.
	RateLimitBurst int

	// RateLimitLoginEnabled indicates whether IP-based login rate limiting is enabled.
	RateLimitLoginEnabled bool
	// RateLimitLoginRequestsPerSec is the number of login attempts allowed per second per IP.
	RateLimitLoginRequestsPerSec float64
	// RateLimitLoginBurst is the burst size for login rate limiting.
	RateLimitLoginBurst int

	// LockoutMaxAttempts is the number of failed logins before an account locks.
	LockoutMaxAttempts int
	// LockoutDuration is how long a locked account rejects logins.
	LockoutDuration time.Duration

	// CORSEnabled indicates whether CORS is enabled.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
	// MetricsPort is the port number for the metrics server.
	MetricsPort int
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Server configuration
		ServerHost: env.GetString("SERVER_HOST", "0.0.0.0"),
		ServerPort: env.GetInt("SERVER_PORT", 8080),

		// Catalog database configuration
		DBDriver:             env.GetString("DB_DRIVER", "sqlite"),
		DBConnectionString:   env.GetString("DATABASE_URL", "file:hivedb.db?_pragma=busy_timeout(5000)"),
		DBMaxOpenConnections: env.GetInt("DB_MAX_OPEN_CONNECTIONS", 25),
		DBMaxIdleConnections: env.GetInt("DB_MAX_IDLE_CONNECTIONS", 5),
		DBConnMaxLifetime:    env.GetDuration("DB_CONN_MAX_LIFETIME", 5, time.Minute),

		// Logging
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		// Cell storage
		CellsDir: env.GetString("CELLS_DIR", "cells"),

		// Crypto
		CryptoEnabled:       env.GetBool("CRYPTO_ENABLED", true),
		MasterKeyPath:       env.GetString("MASTER_KEY_PATH", filepath.Join("sealed_data", "master.key")),
		KeyRotationInterval: env.GetDuration("KEY_ROTATION_INTERVAL_SECONDS", 86400, time.Second),

		// Tokens
		TokenSigningKey: env.GetString("TOKEN_SIGNING_KEY", ""),
		TokenTTL:        env.GetDuration("TOKEN_TTL_MINUTES", 60, time.Minute),

		// Liquid cache
		CacheEnabled:      env.GetBool("CACHE_ENABLED", true),
		CacheSize:         env.GetInt("CACHE_SIZE", 500),
		CacheTTL:          env.GetDuration("CACHE_TTL", 1800, time.Second),
		CacheLayers:       env.GetInt("CACHE_LAYERS", 3),
		CachePatternsPath: env.GetString("CACHE_PATTERNS_PATH", filepath.Join("cache", "patterns.json")),

		// Event bus
		EventBusBootstrap: env.GetString("EVENT_BUS_BOOTSTRAP", ""),

		// Rate limiting (authenticated endpoints)
		RateLimitEnabled:        env.GetBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequestsPerSec: env.GetFloat64("RATE_LIMIT_REQUESTS_PER_SEC", 10.0),
		RateLimitBurst:          env.GetInt("RATE_LIMIT_BURST", 20),

		// Rate limiting for the login endpoint (IP-based, unauthenticated)
		RateLimitLoginEnabled:        env.GetBool("RATE_LIMIT_LOGIN_ENABLED", true),
		RateLimitLoginRequestsPerSec: env.GetFloat64("RATE_LIMIT_LOGIN_REQUESTS_PER_SEC", 5.0),
		RateLimitLoginBurst:          env.GetInt("RATE_LIMIT_LOGIN_BURST", 10),

		// Account lockout
		LockoutMaxAttempts: env.GetInt("LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutDuration:    env.GetDuration("LOCKOUT_DURATION_MINUTES", 15, time.Minute),

		// CORS
		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "hivedb"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8081),
	}
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	switch c.LogLevel {
	case "debug":
		return "debug"
	default:
		return "release"
	}
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
