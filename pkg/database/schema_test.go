package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const testSchema = `
	CREATE TABLE revoked_tokens (
		token_id   TEXT    NOT NULL PRIMARY KEY,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER NOT NULL
	);
	CREATE INDEX idx_revoked_tokens_expires_at ON revoked_tokens(expires_at);
	CREATE TABLE schema_migrations (version uint64, dirty bool);
`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSchemaValidator_EmptyDatabaseFails(t *testing.T) {
	validator := NewSchemaValidator(openTestDB(t))

	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
	if err := validator.Validate(); err == nil {
		t.Error("Validate should fail on empty database")
	}
}

func TestSchemaValidator_ValidSchemaPasses(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Fatalf("Validate should pass on migrated schema: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM revoked_tokens").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("constraint check should leave no rows, found %d", count)
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`
		CREATE TABLE revoked_tokens (token_id TEXT NOT NULL PRIMARY KEY, expires_at DATETIME, revoked_at INTEGER);
	`); err != nil {
		t.Fatal(err)
	}

	if err := NewSchemaValidator(db).ValidateTableStructure(); err == nil {
		t.Error("ValidateTableStructure should reject DATETIME expires_at")
	}
}

func TestSchemaValidator_DetectsMissingIndex(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`
		CREATE TABLE revoked_tokens (token_id TEXT NOT NULL PRIMARY KEY, expires_at INTEGER NOT NULL, revoked_at INTEGER NOT NULL);
	`); err != nil {
		t.Fatal(err)
	}

	if err := NewSchemaValidator(db).ValidateIndexes(); err == nil {
		t.Error("ValidateIndexes should fail without the purge index")
	}
}
