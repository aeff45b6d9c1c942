// Package config loads scout's environment-variable configuration:
// individual env keys read with typed defaults, no reflection or
// struct-tag magic. Struct tags are reserved for YAML study files.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// minDashboardSecretLen gates startup: the process refuses to boot if the
// dashboard is enabled without a secret at least this long.
const minDashboardSecretLen = 32

// Environment names the deployment environment the process runs in.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Testing     Environment = "testing"
)

// DatabaseConfig configures the persistent store backend. Backend is
// "sqlite" (default, local file) or "postgres" (server mode via DB_* env
// vars), chosen by internal/store/factory.go.
type DatabaseConfig struct {
	Backend  string // "sqlite" | "postgres"
	Path     string // sqlite file path
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DashboardConfig configures the optional read-only status surface.
type DashboardConfig struct {
	Enabled bool
	Secret  string
	Addr    string
}

// Config is the top-level process configuration, loaded from the
// environment (and optionally a .env file via godotenv).
type Config struct {
	Environment Environment
	Database    DatabaseConfig
	Dashboard   DashboardConfig
	RedisAddr   string // "" disables the observations_at_rung cache
}

// FromEnv builds a Config from the process environment. Call
// godotenv.Load() before this in main() if a .env file should seed it.
func FromEnv() Config {
	return Config{
		Environment: Environment(getEnv("SCOUT_ENV", string(Development))),
		Database: DatabaseConfig{
			Backend:  getEnv("DB_BACKEND", "sqlite"),
			Path:     getEnv("DB_SQLITE_PATH", "scout.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "scout"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "scout"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Dashboard: DashboardConfig{
			Enabled: getEnvBool("SCOUT_DASHBOARD_ENABLED", false),
			Secret:  os.Getenv("SCOUT_DASHBOARD_SECRET"),
			Addr:    getEnv("SCOUT_DASHBOARD_ADDR", ":8090"),
		},
		RedisAddr: getEnv("SCOUT_REDIS_ADDR", ""),
	}
}

// ValidateSecurity applies the startup security gates. It must be called
// before any dashboard server is started.
func (c Config) ValidateSecurity() error {
	if c.Dashboard.Enabled && len(c.Dashboard.Secret) < minDashboardSecretLen {
		return fmt.Errorf(
			"config: SCOUT_DASHBOARD_SECRET must be at least %d characters when the dashboard is enabled (got %d)",
			minDashboardSecretLen, len(c.Dashboard.Secret),
		)
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
