package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/channelport/internal/db"
)

// TempDB creates a migrated SQLite destination for testing.
func TempDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "content.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if _, err := database.Migrate(context.Background()); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// WriteFile writes content to a file in dir.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// Count returns the number of rows in table matching where.
func Count(t *testing.T, database *db.DB, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := database.QueryRow(database.Dialect().Rebind(query), args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// Exec runs a statement against database, failing the test on error.
func Exec(t *testing.T, database *db.DB, stmt string, args ...any) {
	t.Helper()
	if _, err := database.Exec(database.Dialect().Rebind(stmt), args...); err != nil {
		t.Fatalf("Failed to exec %q: %v", stmt, err)
	}
}
