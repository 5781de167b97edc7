package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against the expected structure.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{
	"accounts",
	"classes",
	"subjects",
	"participants",
	"assignments",
	"sessions",
	"marks",
	"schema_migrations",
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies the columns the session store reads and writes.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":           "TEXT",
		"presenter_id": "TEXT",
		"class_id":     "TEXT",
		"subject_id":   "TEXT",
		"code":         "TEXT",
		"start_time":   "DATETIME",
		"expires_at":   "DATETIME",
		"end_time":     "DATETIME",
		"status":       "TEXT",
		"close_reason": "TEXT",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	markColumns := map[string]string{
		"id":             "TEXT",
		"session_id":     "TEXT",
		"participant_id": "TEXT",
		"marked_at":      "DATETIME",
		"outcome":        "TEXT",
	}
	if err := v.validateColumns("marks", markColumns); err != nil {
		return fmt.Errorf("marks table structure invalid: %w", err)
	}

	participantColumns := map[string]string{
		"id":       "TEXT",
		"class_id": "TEXT",
		"profile":  "BLOB",
	}
	if err := v.validateColumns("participants", participantColumns); err != nil {
		return fmt.Errorf("participants table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies the uniqueness and lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_active_code":  "one active session per join code",
		"idx_sessions_active_scope": "one active session per class and subject",
		"idx_sessions_scope_time":   "report lookups",
		"idx_marks_participant":     "participant reports",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with the declared types.
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, expectedType := range expectedColumns {
		foundType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", col, foundType, expectedType)
		}
	}

	return nil
}
