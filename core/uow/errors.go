package uow

import (
	"errors"
	"fmt"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrUowNotFound        = errors.New("unit of work factory not found")

	// ErrUnsupportedEntityChange is returned when an entity repository lacks
	// the deletion the change asks for.
	ErrUnsupportedEntityChange = errors.New("entity change not supported by repository")
)

// ProgrammerError reports a composition mistake. It is raised with panic and
// never recovered by this package.
type ProgrammerError struct {
	Msg string
}

func (e *ProgrammerError) Error() string { return "programmer error: " + e.Msg }

func programmerError(format string, args ...any) {
	panic(&ProgrammerError{Msg: fmt.Sprintf(format, args...)})
}
