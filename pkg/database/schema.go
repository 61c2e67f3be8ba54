package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that migrations produced the schema the store expects
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"revoked_tokens":    "Token revocation list",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	columns := map[string]string{
		"token_id":   "TEXT",
		"expires_at": "INTEGER",
		"revoked_at": "INTEGER",
	}

	if err := v.validateColumns("revoked_tokens", columns); err != nil {
		return fmt.Errorf("revoked_tokens table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the purge index exists
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_revoked_tokens_expires_at": "Expired revocation purge",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies the token id is unique and required
func (v *SchemaValidator) ValidateConstraints() error {
	const sentinel = "__schema_check__"

	if _, err := v.db.Exec(
		"INSERT INTO revoked_tokens (token_id, expires_at, revoked_at) VALUES (?, 0, 0)", sentinel,
	); err != nil {
		return fmt.Errorf("failed to insert sentinel row: %w", err)
	}
	defer func() {
		// Ignore cleanup errors; the sentinel expired at epoch and is purged anyway
		_, _ = v.db.Exec("DELETE FROM revoked_tokens WHERE token_id = ?", sentinel)
	}()

	if _, err := v.db.Exec(
		"INSERT INTO revoked_tokens (token_id, expires_at, revoked_at) VALUES (?, 0, 0)", sentinel,
	); err == nil {
		return fmt.Errorf("primary key constraint not enforced: revoked_tokens.token_id")
	}

	if _, err := v.db.Exec(
		"INSERT INTO revoked_tokens (token_id, expires_at, revoked_at) VALUES (NULL, 0, 0)",
	); err == nil {
		_, _ = v.db.Exec("DELETE FROM revoked_tokens WHERE token_id IS NULL")
		return fmt.Errorf("not null constraint not enforced: revoked_tokens.token_id")
	}

	return nil
}

// tableExists checks if a table exists in the database
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
