package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// mapSQLiteError translates constraint violations into store sentinels.
func mapSQLiteError(err error, op string) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "sessions.code"):
			return interfaces.ErrCodeInUse
		case strings.Contains(msg, "sessions.class_id"):
			return interfaces.ErrActiveSessionExists
		default:
			return fmt.Errorf("%w: %s", interfaces.ErrDuplicateRecord, op)
		}
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %s references a missing record", types.ErrInvalidInput, op)
	case sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: %s violates a check constraint", types.ErrInvalidInput, op)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}
