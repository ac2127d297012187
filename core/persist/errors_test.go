package persist

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflicts(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: wallets.id")
	for _, err := range []error{
		&UniqueViolationError{ModelID: "w1", Table: "wallets", Constraint: "wallets.id", Err: cause},
		&ConstraintViolationError{ModelID: "w1", Table: "wallets", Constraint: "positive_balance"},
		&StaleVersionError{Table: "wallets", ModelIDs: []string{"w1"}},
		&UniqueUowEventViolationError{UowID: "u1", UowName: "Deposit", IdempotencyKey: "k"},
	} {
		t.Run(fmt.Sprintf("%T", err), func(t *testing.T) {
			wrapped := fmt.Errorf("persist: %w", err)
			assert.True(t, IsConflict(wrapped))
			assert.ErrorIs(t, wrapped, ErrConflict)
			assert.NotErrorIs(t, wrapped, ErrFailure)
			assert.Equal(t, err, Failure("op", "t", err), "conflicts are never wrapped as failures")
		})
	}
}

func TestStaleVersionError_Diagnostics(t *testing.T) {
	err := &StaleVersionError{Table: "wallets", ModelIDs: []string{"w1", "w2"}}
	require.EqualError(t, err, "stale version: table=wallets model_ids=[w1,w2]")

	var stale *StaleVersionError
	require.ErrorAs(t, fmt.Errorf("x: %w", err), &stale)
	require.Equal(t, []string{"w1", "w2"}, stale.ModelIDs)
}

func TestFailure(t *testing.T) {
	require.NoError(t, Failure("insert", "wallets", nil))

	cause := errors.New("disk I/O error")
	err := Failure("insert", "wallets", cause)
	require.ErrorIs(t, err, ErrFailure)
	require.ErrorIs(t, err, cause)
	require.False(t, IsConflict(err))
	require.EqualError(t, err, "insert table=wallets: disk I/O error")
	require.Same(t, err, Failure("again", "", err))

	tooLarge := &EventPayloadTooLargeError{EventName: "Big", ModelID: "m", Size: 2, Limit: 1}
	require.ErrorIs(t, tooLarge, ErrFailure)
	require.False(t, IsConflict(tooLarge))
}
