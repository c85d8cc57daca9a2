// Package domain defines the core interfaces and types for buildcheck.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for catalog and validation persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// The engine itself only reads; writes exist for catalog import.
type Repository interface {
	// Category tree
	SaveCategory(ctx context.Context, tenantID string, category *Category) error
	ListCategories(ctx context.Context, tenantID string) ([]Category, error)

	// Attribute templates
	SaveTemplate(ctx context.Context, tenantID string, template *AttributeTemplate) error
	ListTemplates(ctx context.Context, tenantID string) ([]AttributeTemplate, error)

	// Parts
	SavePart(ctx context.Context, tenantID string, part *Part) error
	GetParts(ctx context.Context, tenantID string, partIDs []string) ([]Part, error)

	// Compatibility rules
	SaveRule(ctx context.Context, tenantID string, rule *CompatibilityRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*CompatibilityRule, error)
	ListRules(ctx context.Context, tenantID string) ([]CompatibilityRule, error)

	// Validation results
	SaveValidation(ctx context.Context, tenantID string, validation *Validation) error
	GetValidation(ctx context.Context, tenantID string, validationID string) (*Validation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific. PostgresURL, when set, wins over the fields.
	PostgresURL      string `yaml:"postgresUrl"`
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
