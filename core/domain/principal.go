package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidPrincipal = errors.New("invalid principal")

// Principal is whoever a unit of work runs on behalf of.
type Principal interface {
	PrincipalID() string
	PrincipalName() string
}

// Actor is the default Principal.
type Actor struct {
	ID   string `json:"id" validate:"notblank,max=100"`
	Name string `json:"name" validate:"notblank,max=100"`
}

// System is used for work nobody in particular asked for.
var System = Actor{ID: "system", Name: "system"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func NewPrincipal(id, name string) (Actor, error) {
	a := Actor{ID: id, Name: name}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}

func MustPrincipal(id, name string) Actor {
	a, err := NewPrincipal(id, name)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Actor) PrincipalID() string   { return a.ID }
func (a Actor) PrincipalName() string { return a.Name }

func (a Actor) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPrincipal, err)
	}
	return nil
}

func (a Actor) String() string { return a.Name + "(" + a.ID + ")" }
