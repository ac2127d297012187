package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key.
type Group[V any] struct {
	group singleflight.Group
}

// Do executes fn for key unless a call for key is already in flight, in
// which case it waits for that call and returns its result. shared
// reports whether the result was handed to more than one caller.
func (g *Group[V]) Do(key string, fn func() (V, error)) (v V, shared bool, err error) {
	out, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return v, shared, err
	}
	return out.(V), shared, nil
}

// Forget makes the next Do for key execute again even if a call is still
// in flight.
func (g *Group[V]) Forget(key string) { g.group.Forget(key) }
