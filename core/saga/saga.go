// Package saga runs long-lived processes as explicit state machines.
//
// A saga starts from a step computed by Init and advances one step per
// call to Next until it reaches a terminal step. Steps are plain values:
// everything a saga needs to continue lives in the step, so a saga can be
// resumed from the beginning with the same params at any time.
//
//	type Reserved struct {
//		saga.Intermediate
//		ReservationID string
//	}
//
//	type Done struct {
//		saga.Terminal
//		PayoutID string
//	}
//
// Every step kind may be visited once per run. Visiting a kind twice, even
// with different data, halts the run with a [HaltError].
//
// Errors from Init or Next are passed to the saga's OnException when it
// implements [ExceptionHandler]. The handler may finish the saga with a
// terminal step, restart it by returning [ErrRestart], or return the error.
//
// An [Observer] registered with WithObserver sees every terminal step a run
// reaches, before Resume returns it.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codewandler/uow-go/core/domain"
)

var (
	// ErrHalt is matched by every HaltError.
	ErrHalt = errors.New("saga halted")

	// ErrRestart is returned by OnException to restart the saga from Init.
	ErrRestart = errors.New("restart saga")

	ErrTooManyRestarts = errors.New("too many saga restarts")
	ErrInvalidStep     = errors.New("invalid saga step")
)

// Step is a state of a saga.
type Step interface{ sagaStep() }

// IntermediateStep is a step the saga continues from.
type IntermediateStep interface {
	Step
	intermediate()
}

// TerminalStep is a step that finishes the saga.
type TerminalStep interface {
	Step
	terminal()
}

// Observer is told about terminal steps. It runs on the Resume goroutine and
// must not block.
type Observer interface {
	OnTerminalStep(ctx context.Context, saga string, step TerminalStep, principal domain.Principal)
}

type ObserverFunc func(ctx context.Context, saga string, step TerminalStep, principal domain.Principal)

func (f ObserverFunc) OnTerminalStep(ctx context.Context, saga string, step TerminalStep, principal domain.Principal) {
	f(ctx, saga, step, principal)
}

// Intermediate is embedded by intermediate steps.
type Intermediate struct{}

func (Intermediate) sagaStep()     {}
func (Intermediate) intermediate() {}

// Terminal is embedded by terminal steps.
type Terminal struct{}

func (Terminal) sagaStep() {}
func (Terminal) terminal() {}

// Saga describes the transitions of a saga finishing with a T.
type Saga[P any, T TerminalStep] interface {
	Init(ctx context.Context, principal domain.Principal, params P) (Step, error)
	Next(ctx context.Context, principal domain.Principal, current IntermediateStep) (Step, error)
}

// ExceptionHandler is implemented by sagas recovering from failed
// transitions. current is nil when Init failed.
type ExceptionHandler[P any, T TerminalStep] interface {
	OnException(ctx context.Context, principal domain.Principal, params P, current IntermediateStep, err error) (T, error)
}

// Named is implemented by sagas with an explicit name.
type Named interface {
	Name() string
}

// HaltError reports a step kind visited twice in one run.
type HaltError struct {
	Saga  string
	Step  string
	Trail []string
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("saga %s halted: step %s already seen (trail: %s)", e.Saga, e.Step, strings.Join(e.Trail, " -> "))
}

func (e *HaltError) Is(target error) bool { return target == ErrHalt }
