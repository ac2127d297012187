package uow

import (
	"errors"

	"github.com/codewandler/uow-go/core/persist"
)

// RetryPolicy decides whether a failed attempt (1-based) is run again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
}

type fixedRetry struct {
	max   int
	match func(error) bool
}

func (r fixedRetry) ShouldRetry(err error, attempt int) bool {
	return attempt <= r.max && r.match(err)
}

// StaleVersionRetry retries up to n times after a stale version.
func StaleVersionRetry(n int) RetryPolicy {
	return fixedRetry{max: n, match: func(err error) bool {
		var stale *persist.StaleVersionError
		return errors.As(err, &stale)
	}}
}

// UniqueViolationRetry retries up to n times after a unique violation on a model table.
func UniqueViolationRetry(n int) RetryPolicy {
	return fixedRetry{max: n, match: func(err error) bool {
		var unique *persist.UniqueViolationError
		return errors.As(err, &unique)
	}}
}

// AnyRetry retries when any of the policies does.
func AnyRetry(policies ...RetryPolicy) RetryPolicy { return anyRetry(policies) }

type anyRetry []RetryPolicy

func (a anyRetry) ShouldRetry(err error, attempt int) bool {
	for _, p := range a {
		if p != nil && p.ShouldRetry(err, attempt) {
			return true
		}
	}
	return false
}
