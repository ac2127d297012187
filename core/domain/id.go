package domain

import "fmt"

// ModelID identifies one model instance for its whole lifetime.
type ModelID interface {
	fmt.Stringer
}

// ID is the default ModelID, an opaque wrapper around a comparable value.
type ID[V comparable] struct {
	value V
}

func NewID[V comparable](v V) ID[V] { return ID[V]{value: v} }

func (id ID[V]) Value() V       { return id.value }
func (id ID[V]) String() string { return fmt.Sprint(id.value) }
func (id ID[V]) IsZero() bool {
	var zero V
	return id.value == zero
}

// Key identifies a model across model types.
type Key struct {
	Name string
	ID   string
}

// KeyOf returns the registry key of m.
func KeyOf(m Model) Key {
	return Key{Name: m.ModelName(), ID: m.ModelID().String()}
}

func (k Key) String() string { return k.Name + "/" + k.ID }
