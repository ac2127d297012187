// Package persist defines the errors storage collaborators raise.
//
// Conflicts ([UniqueViolationError], [ConstraintViolationError],
// [StaleVersionError], [UniqueUowEventViolationError]) all match
// [ErrConflict] with errors.Is and are routed to a unit of work's failure
// hook. Anything else a store reports is wrapped into a [FailureError]
// which matches [ErrFailure] and is always surfaced.
package persist

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConflict = errors.New("persistence conflict")
	ErrFailure  = errors.New("persistence failure")
	ErrNotFound = errors.New("model not found")
)

// UniqueViolationError is raised when a write hits a unique or primary key constraint.
type UniqueViolationError struct {
	ModelID    string
	Table      string
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation: model_id=%s table=%s constraint=%s", e.ModelID, e.Table, e.Constraint)
}
func (e *UniqueViolationError) Is(target error) bool { return target == ErrConflict }
func (e *UniqueViolationError) Unwrap() error        { return e.Err }

// ConstraintViolationError is raised for every other integrity constraint.
type ConstraintViolationError struct {
	ModelID    string
	Table      string
	Constraint string
	Err        error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: model_id=%s table=%s constraint=%s", e.ModelID, e.Table, e.Constraint)
}
func (e *ConstraintViolationError) Is(target error) bool { return target == ErrConflict }
func (e *ConstraintViolationError) Unwrap() error        { return e.Err }

// StaleVersionError is raised when a conditional update matched no row,
// i.e. another writer advanced the version first.
type StaleVersionError struct {
	Table    string
	ModelIDs []string
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("stale version: table=%s model_ids=[%s]", e.Table, strings.Join(e.ModelIDs, ","))
}
func (e *StaleVersionError) Is(target error) bool { return target == ErrConflict }

// UniqueUowEventViolationError is raised when a unit-of-work event with the
// same idempotency key was already recorded.
type UniqueUowEventViolationError struct {
	UowID          string
	UowName        string
	IdempotencyKey string
	Constraint     string
	Err            error
}

func (e *UniqueUowEventViolationError) Error() string {
	return fmt.Sprintf(
		"duplicate unit of work event: uow_id=%s uow=%s idempotency_key=%s constraint=%s",
		e.UowID, e.UowName, e.IdempotencyKey, e.Constraint,
	)
}
func (e *UniqueUowEventViolationError) Is(target error) bool { return target == ErrConflict }
func (e *UniqueUowEventViolationError) Unwrap() error        { return e.Err }

// FailureError wraps an unexpected storage error.
type FailureError struct {
	Op    string
	Table string
	Err   error
}

func (e *FailureError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s table=%s: %v", e.Op, e.Table, e.Err)
}
func (e *FailureError) Is(target error) bool { return target == ErrFailure }
func (e *FailureError) Unwrap() error        { return e.Err }

// Failure wraps err unless it already is a conflict or a failure.
func Failure(op, table string, err error) error {
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrFailure) {
		return err
	}
	return &FailureError{Op: op, Table: table, Err: err}
}

// EventPayloadTooLargeError is raised when an encoded model event exceeds the payload limit.
type EventPayloadTooLargeError struct {
	EventName string
	ModelID   string
	Size      int
	Limit     int
}

func (e *EventPayloadTooLargeError) Error() string {
	return fmt.Sprintf("event payload too large: event=%s model_id=%s size=%d limit=%d", e.EventName, e.ModelID, e.Size, e.Limit)
}
func (e *EventPayloadTooLargeError) Is(target error) bool { return target == ErrFailure }

// IsConflict reports whether err is one of the conflict errors.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
