package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/techcortex/buildcheck/internal/domain"
)

const pingTimeout = 5 * time.Second

// sqlitePragmas keeps the catalog readable while an import is writing.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// dataSource returns the database/sql driver name and DSN for cfg.
func dataSource(cfg domain.RepositoryConfig) (string, string, error) {
	switch cfg.Driver {
	case "sqlite":
		return "sqlite", sqliteDSN(cfg.SQLitePath), nil
	case "postgres":
		dsn, err := postgresDSN(cfg)
		return "postgres", dsn, err
	default:
		return "", "", fmt.Errorf("%w: unsupported driver %q", domain.ErrInvalidInput, cfg.Driver)
	}
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "./buildcheck.db"
	}
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// postgresDSN prefers a connection URL and otherwise assembles key/value
// settings, filling in local defaults.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	if cfg.PostgresURL != "" {
		dsn, err := pq.ParseURL(cfg.PostgresURL)
		if err != nil {
			return "", fmt.Errorf("failed to parse postgres url: %w", err)
		}
		return dsn, nil
	}

	settings := []struct{ key, value, fallback string }{
		{"host", cfg.PostgresHost, "localhost"},
		{"port", portString(cfg.PostgresPort), "5432"},
		{"user", cfg.PostgresUser, ""},
		{"password", cfg.PostgresPassword, ""},
		{"dbname", cfg.PostgresDB, "buildcheck"},
		{"sslmode", cfg.PostgresSSLMode, "disable"},
	}

	parts := make([]string, 0, len(settings))
	for _, s := range settings {
		v := s.value
		if v == "" {
			v = s.fallback
		}
		if v == "" {
			continue
		}
		parts = append(parts, s.key+"="+quoteValue(v))
	}
	return strings.Join(parts, " "), nil
}

func portString(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprint(port)
}

// quoteValue quotes a libpq key/value setting when it holds spaces or quotes.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// openDB opens the configured database and checks it answers.
func openDB(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driverName, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	if driverName == "sqlite" {
		if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}

	return db, nil
}
