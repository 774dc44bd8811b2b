package rbac

import (
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veilnet/warden/pkg/observability"
)

// testSchema mirrors the engine migrations in SQLite dialect so store
// tests run against an in-memory database
const testSchema = `
	CREATE TABLE admin_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		level INTEGER NOT NULL DEFAULT 0,
		permissions TEXT NOT NULL DEFAULT '[]',
		color TEXT,
		icon TEXT,
		is_system BOOLEAN NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_by INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE user_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL REFERENCES admin_roles(id) ON DELETE CASCADE,
		assigned_by INTEGER,
		assigned_at DATETIME NOT NULL,
		expires_at DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		UNIQUE(user_id, role_id)
	);

	CREATE TABLE access_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		role_id INTEGER REFERENCES admin_roles(id) ON DELETE CASCADE,
		priority INTEGER NOT NULL DEFAULT 0,
		effect TEXT NOT NULL,
		resource TEXT NOT NULL,
		actions TEXT NOT NULL DEFAULT '[]',
		conditions TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_by INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE admin_audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT,
		resource_id TEXT,
		details TEXT,
		ip_address TEXT,
		user_agent TEXT,
		status TEXT NOT NULL,
		request_method TEXT,
		request_path TEXT,
		created_at DATETIME NOT NULL
	);
`

// NewTestDB opens an in-memory SQLite database with the engine schema.
// Closed automatically when the test finishes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}
	return db
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}
