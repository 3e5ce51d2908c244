// Package config loads service configuration from an optional YAML file
// and environment variables, with the environment taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwellos/ssobridge/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	SSO      SSOConfig

	// Observability
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds session token settings
type AuthConfig struct {
	// SessionSecret signs session tokens, minimum 32 bytes.
	SessionSecret string
}

// SSOConfig holds settings for the SSO flow itself
type SSOConfig struct {
	// EntityID identifies this service provider in SAML AuthnRequests.
	EntityID string
	// DefaultRedirectURL is the assertion consumer / OAuth redirect target
	// used when the login request does not supply one.
	DefaultRedirectURL string
	// ExchangeTimeout bounds outbound calls to identity providers during
	// the callback token exchange. Exchanges are never retried.
	ExchangeTimeout time.Duration
}

// LoadConfig loads configuration from an optional YAML file named by
// SSOBRIDGE_CONFIG_FILE, with environment variables taking precedence
// over file values
func LoadConfig() (*Config, error) {
	defaults := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		SSO: SSOConfig{
			EntityID:        "urn:ssobridge:sp",
			ExchangeTimeout: 10 * time.Second,
		},
		LogLevel:       observability.InfoLevel,
		MetricsEnabled: true,
	}

	if path := os.Getenv("SSOBRIDGE_CONFIG_FILE"); path != "" {
		if err := applyFile(defaults, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SSOBRIDGE_HOST", defaults.Server.Host),
			Port:            getEnv("SSOBRIDGE_PORT", defaults.Server.Port),
			ReadTimeout:     getEnvDuration("SSOBRIDGE_READ_TIMEOUT", defaults.Server.ReadTimeout),
			WriteTimeout:    getEnvDuration("SSOBRIDGE_WRITE_TIMEOUT", defaults.Server.WriteTimeout),
			IdleTimeout:     getEnvDuration("SSOBRIDGE_IDLE_TIMEOUT", defaults.Server.IdleTimeout),
			ShutdownTimeout: getEnvDuration("SSOBRIDGE_SHUTDOWN_TIMEOUT", defaults.Server.ShutdownTimeout),
		},
		Database: DatabaseConfig{
			URL:             getEnv("SSOBRIDGE_POSTGRES_URL", defaults.Database.URL),
			MaxOpenConns:    getEnvInt("SSOBRIDGE_POSTGRES_MAX_CONNS", defaults.Database.MaxOpenConns),
			MaxIdleConns:    getEnvInt("SSOBRIDGE_POSTGRES_IDLE_CONNS", defaults.Database.MaxIdleConns),
			ConnMaxLifetime: getEnvDuration("SSOBRIDGE_POSTGRES_CONN_LIFETIME", defaults.Database.ConnMaxLifetime),
		},
		Auth: AuthConfig{
			SessionSecret: getEnv("SSOBRIDGE_SESSION_SECRET", defaults.Auth.SessionSecret),
		},
		SSO: SSOConfig{
			EntityID:           getEnv("SSOBRIDGE_ENTITY_ID", defaults.SSO.EntityID),
			DefaultRedirectURL: getEnv("SSOBRIDGE_DEFAULT_REDIRECT_URL", defaults.SSO.DefaultRedirectURL),
			ExchangeTimeout:    getEnvDuration("SSOBRIDGE_EXCHANGE_TIMEOUT", defaults.SSO.ExchangeTimeout),
		},
		LogLevel:       defaults.LogLevel,
		MetricsEnabled: getEnvBool("SSOBRIDGE_METRICS_ENABLED", defaults.MetricsEnabled),
	}
	if level := os.Getenv("SSOBRIDGE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = parseLogLevel(level)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config for YAML config files. Durations are written as
// Go duration strings ("15s", "30m").
type fileConfig struct {
	Server struct {
		Host            string `yaml:"host"`
		Port            string `yaml:"port"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		IdleTimeout     string `yaml:"idleTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	} `yaml:"server"`
	Database struct {
		URL             string `yaml:"url"`
		MaxOpenConns    int    `yaml:"maxOpenConns"`
		MaxIdleConns    int    `yaml:"maxIdleConns"`
		ConnMaxLifetime string `yaml:"connMaxLifetime"`
	} `yaml:"database"`
	Auth struct {
		SessionSecret string `yaml:"sessionSecret"`
	} `yaml:"auth"`
	SSO struct {
		EntityID           string `yaml:"entityId"`
		DefaultRedirectURL string `yaml:"defaultRedirectUrl"`
		ExchangeTimeout    string `yaml:"exchangeTimeout"`
	} `yaml:"sso"`
	LogLevel       string `yaml:"logLevel"`
	MetricsEnabled *bool  `yaml:"metricsEnabled"`
}

// applyFile overlays values from a YAML config file onto cfg.
// Absent file fields leave the existing value untouched.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Server.Host, fc.Server.Host)
	setString(&cfg.Server.Port, fc.Server.Port)
	setString(&cfg.Database.URL, fc.Database.URL)
	setString(&cfg.Auth.SessionSecret, fc.Auth.SessionSecret)
	setString(&cfg.SSO.EntityID, fc.SSO.EntityID)
	setString(&cfg.SSO.DefaultRedirectURL, fc.SSO.DefaultRedirectURL)

	setInt(&cfg.Database.MaxOpenConns, fc.Database.MaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, fc.Database.MaxIdleConns)

	for _, d := range []struct {
		dst *time.Duration
		raw string
	}{
		{&cfg.Server.ReadTimeout, fc.Server.ReadTimeout},
		{&cfg.Server.WriteTimeout, fc.Server.WriteTimeout},
		{&cfg.Server.IdleTimeout, fc.Server.IdleTimeout},
		{&cfg.Server.ShutdownTimeout, fc.Server.ShutdownTimeout},
		{&cfg.Database.ConnMaxLifetime, fc.Database.ConnMaxLifetime},
		{&cfg.SSO.ExchangeTimeout, fc.SSO.ExchangeTimeout},
	} {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.MetricsEnabled != nil {
		cfg.MetricsEnabled = *fc.MetricsEnabled
	}

	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setInt(dst *int, val int) {
	if val != 0 {
		*dst = val
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = parsed
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if len(c.Auth.SessionSecret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}
	if c.SSO.DefaultRedirectURL == "" {
		return fmt.Errorf("default redirect URL is required")
	}
	if !strings.HasPrefix(c.SSO.DefaultRedirectURL, "http://") &&
		!strings.HasPrefix(c.SSO.DefaultRedirectURL, "https://") {
		return fmt.Errorf("default redirect URL must be an absolute http(s) URL")
	}
	if c.SSO.ExchangeTimeout <= 0 {
		return fmt.Errorf("exchange timeout must be positive")
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
