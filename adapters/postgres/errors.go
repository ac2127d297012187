package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codewandler/uow-go/core/persist"
)

const (
	// classIntegrityConstraint is SQLSTATE class 23.
	classIntegrityConstraint = "23"
	codeUniqueViolation      = "23505"
)

// mapError translates a driver error of a write to the persistence taxonomy.
func mapError(op, table, modelID string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || !strings.HasPrefix(pgErr.Code, classIntegrityConstraint) {
		return persist.Failure(op, table, err)
	}
	if pgErr.Code == codeUniqueViolation {
		return &persist.UniqueViolationError{ModelID: modelID, Table: table, Constraint: pgErr.ConstraintName, Err: err}
	}
	return &persist.ConstraintViolationError{ModelID: modelID, Table: table, Constraint: pgErr.ConstraintName, Err: err}
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
