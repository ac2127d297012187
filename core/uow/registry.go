package uow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/reflector"
)

// Repository persists models of type M. Add inserts at version 1, Update
// writes only if the stored version still equals the model's version and
// bumps it by one. Both return the model as stored. Find returns
// persist.ErrNotFound for unknown ids.
type Repository[M domain.Model] interface {
	Find(ctx context.Context, id domain.ModelID) (M, error)
	Add(ctx context.Context, m M) (M, error)
	Update(ctx context.Context, m M) (M, error)
}

// BatchRepository is implemented by repositories that can pipeline writes.
// Results are returned in input order.
type BatchRepository[M domain.Model] interface {
	AddAll(ctx context.Context, ms []M) ([]M, error)
	UpdateAll(ctx context.Context, ms []M) ([]M, error)
}

// modelRepository is the type-erased view the executor dispatches on.
type modelRepository interface {
	name() string
	add(ctx context.Context, m domain.Model) (domain.Model, error)
	update(ctx context.Context, m domain.Model) (domain.Model, error)
	addAll(ctx context.Context, ms []domain.Model) ([]domain.Model, error)
	updateAll(ctx context.Context, ms []domain.Model) ([]domain.Model, error)
	batched() bool
	typed() any
}

type typedRepository[M domain.Model] struct {
	repo  Repository[M]
	batch BatchRepository[M]
	label string
}

func (r typedRepository[M]) name() string  { return r.label }
func (r typedRepository[M]) batched() bool { return r.batch != nil }
func (r typedRepository[M]) typed() any    { return r.repo }

func (r typedRepository[M]) add(ctx context.Context, m domain.Model) (domain.Model, error) {
	out, err := r.repo.Add(ctx, m.(M))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r typedRepository[M]) update(ctx context.Context, m domain.Model) (domain.Model, error) {
	out, err := r.repo.Update(ctx, m.(M))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r typedRepository[M]) addAll(ctx context.Context, ms []domain.Model) ([]domain.Model, error) {
	return batch(ctx, ms, r.batch.AddAll)
}

func (r typedRepository[M]) updateAll(ctx context.Context, ms []domain.Model) ([]domain.Model, error) {
	return batch(ctx, ms, r.batch.UpdateAll)
}

func batch[M domain.Model](ctx context.Context, in []domain.Model, fn func(context.Context, []M) ([]M, error)) ([]domain.Model, error) {
	typed := make([]M, len(in))
	for i, m := range in {
		typed[i] = m.(M)
	}
	res, err := fn(ctx, typed)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Model, len(res))
	for i, m := range res {
		out[i] = m
	}
	return out, nil
}

// Registry maps model and entity types to repositories.
type Registry struct {
	mu       sync.RWMutex
	repos    map[reflect.Type]modelRepository
	entities map[reflect.Type]entityRepository
}

func NewRegistry() *Registry {
	return &Registry{
		repos:    make(map[reflect.Type]modelRepository),
		entities: make(map[reflect.Type]entityRepository),
	}
}

// Register makes repo responsible for models of type M, replacing any
// earlier registration.
func Register[M domain.Model](reg *Registry, repo Repository[M]) {
	tr := typedRepository[M]{repo: repo, label: reflector.TypeInfoFor[M]().Short()}
	if b, ok := repo.(BatchRepository[M]); ok {
		tr.batch = b
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.repos[reflect.TypeFor[M]()] = tr
}

// RepositoryFor returns the repository registered for M.
func RepositoryFor[M domain.Model](reg *Registry) (Repository[M], error) {
	t := reflect.TypeFor[M]()
	reg.mu.RLock()
	r, ok := reg.repos[t]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, t)
	}
	return r.typed().(Repository[M]), nil
}

func (reg *Registry) lookup(m domain.Model) (modelRepository, error) {
	t := reflect.TypeOf(m)
	reg.mu.RLock()
	r, ok := reg.repos[t]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, t)
	}
	return r, nil
}
