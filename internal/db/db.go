package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a destination or catalog connection together with its dialect.
type DB struct {
	*sql.DB
	url     string
	dialect Dialect
}

// Open opens the destination store named by url. Postgres and libsql URLs are
// recognised by scheme; anything else is a SQLite file path.
func Open(url string) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	dialect := dialectFor(url)
	dsn := url
	if dialect == SQLite {
		if err := os.MkdirAll(filepath.Dir(url), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// Connection parameters instead of PRAGMA statements so every pooled
		// connection gets them. Immediate transactions serialize writers before
		// they read the tree ids they are about to allocate from.
		dsn = "file:" + url + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	}

	sqlDB, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name, err)
	}

	return &DB{DB: sqlDB, url: url, dialect: dialect}, nil
}

// OpenCatalog opens a SQLite catalog file read-only.
func OpenCatalog(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	sqlDB, err := sql.Open(SQLite.DriverName, "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	return &DB{DB: sqlDB, url: path, dialect: SQLite}, nil
}

// URL returns the location the database was opened from.
func (db *DB) URL() string {
	return db.url
}

// Dialect returns the SQL dialect of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

func migrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies pending migrations and returns the names of those applied.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	files, err := migrationFiles()
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var applied []string
	for _, name := range files {
		var count int
		err := db.QueryRowContext(ctx, db.dialect.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), name).Scan(&count)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration status for %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to begin transaction for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		_, err = tx.ExecContext(ctx, db.dialect.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			name, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %s: %w", name, err)
		}

		applied = append(applied, name)
	}

	return applied, nil
}

// MigrationStatus returns applied and pending migration names.
func (db *DB) MigrationStatus(ctx context.Context) (applied []string, pending []string, err error) {
	files, err := migrationFiles()
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		// A fresh database has no tracking table yet.
		return nil, files, nil
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		seen[version] = true
		applied = append(applied, version)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating migrations: %w", err)
	}

	for _, name := range files {
		if !seen[name] {
			pending = append(pending, name)
		}
	}
	return applied, pending, nil
}

// RequiresMigrationError returns a descriptive error when migrations are
// pending, or nil when the schema is current.
func (db *DB) RequiresMigrationError(ctx context.Context) error {
	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	current := "none"
	if len(applied) > 0 {
		current = applied[len(applied)-1]
	}
	return fmt.Errorf("database at %s (version: %s) requires migration: %d pending migration(s). Run 'channelport migrate' to update",
		db.url, current, len(pending))
}
