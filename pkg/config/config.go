package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/plugbazaar/bazaar/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (revocation registry, rate limiting)
	Redis RedisConfig

	// Remote authority configuration
	Authority AuthorityConfig

	// Token signing configuration
	Auth AuthConfig

	// Artifact storage configuration
	Artifacts ArtifactsConfig

	// Observability configuration
	Observability ObservabilityConfig
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

// DatabaseConfig holds SQL database configuration
type DatabaseConfig struct {
	Driver       string // "postgres" or "sqlite3"
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthorityConfig holds remote entitlement authority configuration
type AuthorityConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxInFlight int64
	MaxRetries  uint64
}

// AuthConfig holds token signing key material, one key per token scope.
// Keys are supplied at process start and never rotated at runtime.
type AuthConfig struct {
	AccountSecret string
	APISecret     string
	PluginSecret  string
}

// ArtifactsConfig holds plugin archive storage configuration
type ArtifactsConfig struct {
	Backend string // "filesystem" or "s3"

	// Filesystem backend
	Root    string
	BaseURL string

	// S3 backend
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Authority:     loadAuthorityConfig(),
		Auth:          loadAuthConfig(),
		Artifacts:     loadArtifactsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BAZAAR_HOST", "0.0.0.0"),
		Port:            getEnv("BAZAAR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BAZAAR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BAZAAR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BAZAAR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BAZAAR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BAZAAR_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:       getEnv("BAZAAR_DB_DRIVER", "postgres"),
		DSN:          getEnv("BAZAAR_DB_DSN", ""),
		MaxOpenConns: getEnvInt("BAZAAR_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("BAZAAR_DB_MAX_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("BAZAAR_DB_CONN_LIFETIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("BAZAAR_REDIS_URL", "redis://localhost:6379"),
		Password:   getEnv("BAZAAR_REDIS_PASSWORD", ""),
		DB:         getEnvInt("BAZAAR_REDIS_DB", 0),
		MaxRetries: getEnvInt("BAZAAR_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("BAZAAR_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		BaseURL:     getEnv("BAZAAR_AUTHORITY_URL", "http://localhost:8081"),
		Timeout:     getEnvDuration("BAZAAR_AUTHORITY_TIMEOUT", 3*time.Second),
		MaxInFlight: int64(getEnvInt("BAZAAR_AUTHORITY_MAX_IN_FLIGHT", 128)),
		MaxRetries:  uint64(getEnvInt("BAZAAR_AUTHORITY_MAX_RETRIES", 2)),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AccountSecret: getEnv("BAZAAR_ACCOUNT_TOKEN_SECRET", ""),
		APISecret:     getEnv("BAZAAR_API_TOKEN_SECRET", ""),
		PluginSecret:  getEnv("BAZAAR_PLUGIN_TOKEN_SECRET", ""),
	}
}

func loadArtifactsConfig() ArtifactsConfig {
	return ArtifactsConfig{
		Backend:        getEnv("BAZAAR_ARTIFACTS_BACKEND", "filesystem"),
		Root:           getEnv("BAZAAR_ARTIFACTS_ROOT", "/var/lib/bazaar/artifacts"),
		BaseURL:        getEnv("BAZAAR_ARTIFACTS_BASE_URL", "http://localhost:8080/artifacts"),
		S3Endpoint:     getEnv("BAZAAR_S3_ENDPOINT", ""),
		S3Region:       getEnv("BAZAAR_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("BAZAAR_S3_BUCKET", ""),
		S3AccessKey:    getEnv("BAZAAR_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("BAZAAR_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("BAZAAR_S3_USE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("BAZAAR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BAZAAR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BAZAAR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BAZAAR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BAZAAR_OTEL_SERVICE_NAME", "bazaar"),
		OTelServiceVersion: getEnv("BAZAAR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BAZAAR_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required (revocation registry)")
	}

	if c.Authority.BaseURL == "" {
		return fmt.Errorf("authority URL is required")
	}
	if c.Authority.Timeout <= 0 {
		return fmt.Errorf("authority timeout must be positive")
	}
	if c.Authority.MaxInFlight <= 0 {
		return fmt.Errorf("authority max in-flight must be positive")
	}

	if err := c.Auth.Validate(); err != nil {
		return err
	}

	switch c.Artifacts.Backend {
	case "filesystem":
		if c.Artifacts.Root == "" {
			return fmt.Errorf("artifacts root is required for filesystem backend")
		}
	case "s3":
		if c.Artifacts.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("invalid artifacts backend: %s (must be filesystem or s3)", c.Artifacts.Backend)
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// Validate checks signing key material. Each scope needs its own key; a
// shared key would let a token minted for one scope pass another scope's
// signature check.
func (a *AuthConfig) Validate() error {
	if a.AccountSecret == "" || a.APISecret == "" || a.PluginSecret == "" {
		return fmt.Errorf("token signing secrets are required for all scopes")
	}
	if a.AccountSecret == a.APISecret || a.AccountSecret == a.PluginSecret || a.APISecret == a.PluginSecret {
		return fmt.Errorf("token signing secrets must be distinct per scope")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
