package uow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"go.opentelemetry.io/otel/attribute"

	"github.com/codewandler/uow-go/core/domain"
)

// persist writes acc through the registered repositories. Writes run in
// accumulated order unless the unit of work allows out-of-order persisting
// and the transaction manager can pipeline, in which case writes are grouped
// per repository and kind, keeping their relative order within a group.
// Entity changes follow the models, grouped the same way.
func (e *Executor) persist(ctx context.Context, acc Accumulator, cfg Config) (p Persisted, err error) {
	ctx, span := e.tracer.Start(ctx, "uow.persist")
	defer func() { endSpan(span, err) }()

	batched := cfg.OutOfOrderPersisting && e.tm.SupportsPipelining()
	span.SetAttributes(
		attribute.Int("uow.changes", acc.Len()),
		attribute.Int("uow.entity_changes", len(acc.entities)),
		attribute.Bool("uow.batched", batched),
	)

	if batched {
		p, err = e.persistBatched(ctx, acc)
	} else {
		p, err = e.persistSequential(ctx, acc)
	}
	if err != nil {
		return p, err
	}
	return p, e.persistEntities(ctx, acc.entities, batched)
}

func (e *Executor) persistSequential(ctx context.Context, acc Accumulator) (Persisted, error) {
	var p Persisted
	for _, c := range acc.changes {
		if c.Kind == Unchanged {
			p.put(c.Model)
			continue
		}
		repo, err := e.repos.lookup(c.Model)
		if err != nil {
			return p, err
		}
		stored, err := write(ctx, repo, c)
		if err != nil {
			return p, err
		}
		e.log.Debug("persisted",
			slog.Group("change",
				slog.String("kind", c.Kind.String()),
				slog.String("model", c.Key().String()),
				stored.EntityState().Version().SlogAttr(),
			),
		)
		p.put(stored)
	}
	return p, nil
}

func write(ctx context.Context, repo modelRepository, c Change) (domain.Model, error) {
	switch c.Kind {
	case Added:
		return repo.add(ctx, c.Model)
	case Updated:
		return repo.update(ctx, c.Model)
	default:
		return nil, fmt.Errorf("cannot write change kind %s", c.Kind)
	}
}

type groupKey struct {
	model reflect.Type
	kind  ChangeKind
}

type batchGroup struct {
	repo   modelRepository
	kind   ChangeKind
	models []domain.Model
}

func (e *Executor) persistBatched(ctx context.Context, acc Accumulator) (Persisted, error) {
	var (
		p      Persisted
		groups []*batchGroup
		index  = map[groupKey]*batchGroup{}
	)
	for _, c := range acc.changes {
		if c.Kind == Unchanged {
			p.put(c.Model)
			continue
		}
		repo, err := e.repos.lookup(c.Model)
		if err != nil {
			return p, err
		}
		k := groupKey{model: reflect.TypeOf(c.Model), kind: c.Kind}
		g, ok := index[k]
		if !ok {
			g = &batchGroup{repo: repo, kind: c.Kind}
			index[k] = g
			groups = append(groups, g)
		}
		g.models = append(g.models, c.Model)
	}

	for _, g := range groups {
		var (
			stored []domain.Model
			err    error
		)
		switch {
		case g.repo.batched() && g.kind == Added:
			stored, err = g.repo.addAll(ctx, g.models)
		case g.repo.batched() && g.kind == Updated:
			stored, err = g.repo.updateAll(ctx, g.models)
		default:
			for _, m := range g.models {
				var s domain.Model
				if s, err = write(ctx, g.repo, Change{Kind: g.kind, Model: m}); err != nil {
					break
				}
				stored = append(stored, s)
			}
		}
		if err != nil {
			return p, err
		}
		e.log.Debug("persisted batch",
			slog.String("repo", g.repo.name()),
			slog.String("kind", g.kind.String()),
			slog.Int("count", len(stored)),
		)
		for _, s := range stored {
			p.put(s)
		}
	}
	return p, nil
}

type entityGroupKey struct {
	entity reflect.Type
	key    reflect.Type
	kind   EntityChangeKind
}

type entityGroup struct {
	repo    entityRepository
	kind    EntityChangeKind
	changes []EntityChange
}

func (e *Executor) persistEntities(ctx context.Context, cs []EntityChange, batched bool) error {
	var (
		groups []*entityGroup
		index  = map[entityGroupKey]*entityGroup{}
	)
	for _, c := range cs {
		repo, err := e.repos.lookupEntity(c.entityType())
		if err != nil {
			return err
		}
		if !batched {
			groups = append(groups, &entityGroup{repo: repo, kind: c.Kind, changes: []EntityChange{c}})
			continue
		}
		k := entityGroupKey{entity: c.entityType(), key: reflect.TypeOf(c.Key.key), kind: c.Kind}
		g, ok := index[k]
		if !ok {
			g = &entityGroup{repo: repo, kind: c.Kind}
			index[k] = g
			groups = append(groups, g)
		}
		g.changes = append(g.changes, c)
	}

	for _, g := range groups {
		if err := writeEntities(ctx, g.repo, g.kind, g.changes); err != nil {
			return err
		}
		e.log.Debug("persisted entities",
			slog.String("repo", g.repo.name()),
			slog.String("kind", g.kind.String()),
			slog.Int("count", len(g.changes)),
		)
	}
	return nil
}
