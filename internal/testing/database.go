// Package testing holds shared test fixtures.
package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/treesync/db"
)

// CreateTestDB creates an in-memory SQLite database with all migrations
// applied. Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// CountVersions returns how many archived versions of objectID conn holds.
func CountVersions(t *testing.T, conn *sql.DB, objectID string) int {
	t.Helper()

	var n int
	err := conn.QueryRow(`SELECT COUNT(*) FROM object_versions WHERE object_id = ?`, objectID).Scan(&n)
	if err != nil {
		t.Fatalf("Failed to count versions of %s: %v", objectID, err)
	}
	return n
}
