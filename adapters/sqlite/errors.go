package sqlite

import (
	"database/sql"
	"errors"
	"regexp"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/uow-go/core/persist"
)

var constraintName = regexp.MustCompile(`(?:UNIQUE|CHECK|NOT NULL|FOREIGN KEY|PRIMARY KEY) constraint failed: ([^\s(]+)`)

func constraintCode(err error) (int, bool) {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	code := se.Code()
	if code&0xff != sqlite3.SQLITE_CONSTRAINT {
		return 0, false
	}
	return code, true
}

// constraintOf extracts "table.column" from a constraint message.
func constraintOf(err error) string {
	if m := constraintName.FindStringSubmatch(err.Error()); m != nil {
		return strings.TrimSuffix(m[1], ",")
	}
	return ""
}

// mapError translates a driver error of a write to the persistence taxonomy.
func mapError(op, table, modelID string, err error) error {
	if err == nil {
		return nil
	}
	code, ok := constraintCode(err)
	if !ok {
		return persist.Failure(op, table, err)
	}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return &persist.UniqueViolationError{ModelID: modelID, Table: table, Constraint: constraintOf(err), Err: err}
	default:
		return &persist.ConstraintViolationError{ModelID: modelID, Table: table, Constraint: constraintOf(err), Err: err}
	}
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
