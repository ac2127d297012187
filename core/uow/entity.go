package uow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/codewandler/uow-go/core/reflector"
)

// Entities are plain values without identity, version or events, such as
// link rows. Their content is their identity. A unit of work can insert and
// delete them next to its models; they are written after all models.

// EntityRepository inserts entities of type E.
type EntityRepository[E any] interface {
	AddEntities(ctx context.Context, es []E) error
}

// DeletableEntityRepository also deletes entities of type E by content.
type DeletableEntityRepository[E any] interface {
	EntityRepository[E]
	DeleteEntities(ctx context.Context, es []E) error
}

// KeyDeletableEntityRepository deletes entities of type E by a key of type K
// without loading them.
type KeyDeletableEntityRepository[E, K any] interface {
	DeleteEntitiesByKey(ctx context.Context, keys []K) error
}

// EntityChangeKind is the operation recorded for one entity.
type EntityChangeKind uint8

const (
	EntityAdded EntityChangeKind = iota + 1
	EntityDeleted
	EntityDeletedByKey
)

func (k EntityChangeKind) String() string {
	switch k {
	case EntityAdded:
		return "add-entity"
	case EntityDeleted:
		return "delete-entity"
	case EntityDeletedByKey:
		return "delete-entity-by-key"
	default:
		return fmt.Sprintf("entity-kind(%d)", uint8(k))
	}
}

// EntityKey addresses entities of one type for deletion. Build it with KeyFor.
type EntityKey struct {
	entity reflect.Type
	key    any
	del    func(ctx context.Context, repo any, keys []any) error
}

// KeyFor returns the key k for entities of type E.
func KeyFor[E, K any](k K) EntityKey {
	return EntityKey{
		entity: reflect.TypeFor[E](),
		key:    k,
		del: func(ctx context.Context, repo any, keys []any) error {
			kd, ok := repo.(KeyDeletableEntityRepository[E, K])
			if !ok {
				return fmt.Errorf("%w: %s does not delete by %s", ErrUnsupportedEntityChange, reflect.TypeFor[E](), reflect.TypeFor[K]())
			}
			typed := make([]K, len(keys))
			for i, k := range keys {
				typed[i] = k.(K)
			}
			return kd.DeleteEntitiesByKey(ctx, typed)
		},
	}
}

func (k EntityKey) Key() any { return k.key }

// EntityChange is one entity entry of an Accumulator. Entity changes keep
// registration order and never fold.
type EntityChange struct {
	Kind   EntityChangeKind
	Entity any
	Key    EntityKey
}

func (c EntityChange) entityType() reflect.Type {
	if c.Kind == EntityDeletedByKey {
		return c.Key.entity
	}
	return reflect.TypeOf(c.Entity)
}

func (c EntityChange) String() string {
	if c.Kind == EntityDeletedByKey {
		return fmt.Sprintf("%s(%s:%v)", c.Kind, c.entityType(), c.Key.key)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.entityType())
}

// entityRepository is the type-erased view of an EntityRepository.
type entityRepository interface {
	name() string
	add(ctx context.Context, es []any) error
	remove(ctx context.Context, es []any) error
	typed() any
}

type typedEntityRepository[E any] struct {
	repo      EntityRepository[E]
	deletable DeletableEntityRepository[E]
	label     string
}

func (r typedEntityRepository[E]) name() string { return r.label }
func (r typedEntityRepository[E]) typed() any   { return r.repo }

func (r typedEntityRepository[E]) add(ctx context.Context, es []any) error {
	return r.repo.AddEntities(ctx, entitiesOf[E](es))
}

func (r typedEntityRepository[E]) remove(ctx context.Context, es []any) error {
	if r.deletable == nil {
		return fmt.Errorf("%w: %s does not delete", ErrUnsupportedEntityChange, r.label)
	}
	return r.deletable.DeleteEntities(ctx, entitiesOf[E](es))
}

func entitiesOf[E any](in []any) []E {
	out := make([]E, len(in))
	for i, e := range in {
		out[i] = e.(E)
	}
	return out
}

// RegisterEntity makes repo responsible for entities of type E, replacing
// any earlier registration. Deletion is available when repo implements
// DeletableEntityRepository or KeyDeletableEntityRepository.
func RegisterEntity[E any](reg *Registry, repo EntityRepository[E]) {
	tr := typedEntityRepository[E]{repo: repo, label: reflector.TypeInfoFor[E]().Short()}
	if d, ok := repo.(DeletableEntityRepository[E]); ok {
		tr.deletable = d
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.entities[reflect.TypeFor[E]()] = tr
}

func (reg *Registry) lookupEntity(t reflect.Type) (entityRepository, error) {
	reg.mu.RLock()
	r, ok := reg.entities[t]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", ErrRepositoryNotFound, t)
	}
	return r, nil
}

// writeEntities applies changes of one kind and entity type.
func writeEntities(ctx context.Context, repo entityRepository, kind EntityChangeKind, cs []EntityChange) error {
	switch kind {
	case EntityAdded:
		return repo.add(ctx, entityValues(cs))
	case EntityDeleted:
		return repo.remove(ctx, entityValues(cs))
	case EntityDeletedByKey:
		keys := make([]any, len(cs))
		for i, c := range cs {
			keys[i] = c.Key.key
		}
		return cs[0].Key.del(ctx, repo.typed(), keys)
	default:
		return fmt.Errorf("cannot write entity change kind %s", kind)
	}
}

func entityValues(cs []EntityChange) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = c.Entity
	}
	return out
}
