// Package db opens the form-sync database and serializes schema migrations
// across replicas.
package db

import (
	"os"
	"strings"
	"time"
)

// Supported database types.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Config holds database connection settings.
type Config struct {
	Type string
	DSN  string

	// MigrationLockEnabled serializes AutoMigrate across replicas.
	MigrationLockEnabled bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config for PostgreSQL with migration locking on.
func DefaultConfig() *Config {
	return &Config{
		Type:                 TypePostgres,
		MigrationLockEnabled: true,
		MaxOpenConns:         20,
		MaxIdleConns:         5,
		ConnMaxLifetime:      30 * time.Minute,
	}
}

// ConfigFromEnv reads database configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - DATABASE_TYPE: postgres, mysql or sqlite (default: postgres)
//   - DATABASE_DSN: connection string
//   - FORMSYNC_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("DATABASE_TYPE"); v != "" {
		cfg.Type = strings.ToLower(v)
	}
	cfg.DSN = os.Getenv("DATABASE_DSN")
	if v := os.Getenv("FORMSYNC_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	return cfg
}
