// Package ds provides small generic data structures.
package ds

import (
	"encoding/json"
	"fmt"
)

// Set is an insertion-ordered set. The zero value is not usable, create
// sets with [NewSet].
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

// NewSet creates a set holding items in the given order, duplicates dropped.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items)), order: make([]T, 0, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v and reports whether it was absent.
func (s *Set[T]) Add(v T) bool {
	if s.Contains(v) {
		return false
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

// Remove deletes the given values, keeping the order of the rest.
func (s *Set[T]) Remove(vs ...T) {
	removed := false
	for _, v := range vs {
		if s.Contains(v) {
			delete(s.items, v)
			removed = true
		}
	}
	if !removed {
		return
	}
	kept := s.order[:0]
	for _, v := range s.order {
		if s.Contains(v) {
			kept = append(kept, v)
		}
	}
	clear(s.order[len(kept):])
	s.order = kept
}

func (s *Set[T]) Len() int      { return len(s.order) }
func (s *Set[T]) IsEmpty() bool { return len(s.order) == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy of s.
func (s *Set[T]) Clone() *Set[T] { return NewSet(s.order...) }

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// MarshalJSON encodes the set as an ordered JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	*s = *NewSet(vs...)
	return nil
}
