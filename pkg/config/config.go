// Package config loads gateway configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hubgate/hubgate/pkg/permissions"
	"github.com/hubgate/hubgate/pkg/provider"
	"github.com/hubgate/hubgate/pkg/session"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Provider      provider.Config
	Sessions      SessionConfig
	Cache         CacheConfig
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

	// Health/metrics server (separate port for probes and scrapes)
	HealthPort string
}

// SessionConfig holds session store settings
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	CapacityHint  int
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	Capacity      int
	TTL           time.Duration
	SweepInterval time.Duration
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
//
// Provider client credentials are deliberately not required here: the process
// starts without them and the login/callback endpoints report a configuration
// error instead, so permission resolution for existing deploy tooling keeps
// working while credentials are being rotated.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HUBGATE_HOST", "0.0.0.0"),
			Port:            getEnv("HUBGATE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HUBGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HUBGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HUBGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HUBGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("HUBGATE_HEALTH_PORT", "9090"),
		},
		Provider: provider.Config{
			ClientID:     getEnv("HUBGATE_CLIENT_ID", ""),
			ClientSecret: getEnv("HUBGATE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("HUBGATE_REDIRECT_URL", ""),
			Scopes:       getEnvList("HUBGATE_SCOPES", []string{"read:user", "repo"}),
			AuthURL:      getEnv("HUBGATE_PROVIDER_AUTH_URL", ""),
			TokenURL:     getEnv("HUBGATE_PROVIDER_TOKEN_URL", ""),
			APIBaseURL:   getEnv("HUBGATE_PROVIDER_API_URL", ""),
			Timeout:      getEnvDuration("HUBGATE_PROVIDER_TIMEOUT", provider.DefaultTimeout),
		},
		Sessions: SessionConfig{
			TTL:           getEnvDuration("HUBGATE_SESSION_TTL", session.DefaultTTL),
			SweepInterval: getEnvDuration("HUBGATE_SESSION_SWEEP_INTERVAL", time.Minute),
			CapacityHint:  getEnvInt("HUBGATE_SESSION_CAPACITY_HINT", 50000),
		},
		Cache: CacheConfig{
			Capacity:      getEnvInt("HUBGATE_CACHE_CAPACITY", permissions.DefaultCapacity),
			TTL:           getEnvDuration("HUBGATE_CACHE_TTL", permissions.DefaultTTL),
			SweepInterval: getEnvDuration("HUBGATE_CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("HUBGATE_LOG_LEVEL", "info"),
			LogFormat:      getEnv("HUBGATE_LOG_FORMAT", "json"),
			MetricsEnabled: getEnvBool("HUBGATE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
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
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	if c.Provider.Configured() && c.Provider.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required when provider credentials are set")
	}
	return nil
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

// getEnvList returns a comma-separated list environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
