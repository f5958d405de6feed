// Package repository implements cache-aside access to the remote store with
// a local cache fallback, plus the in-process name cache and reservation
// ledger built on top of it.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/metrics"
	"github.com/prohmpiriya/campus-ticketing/internal/store"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EntityRepository reads from the remote store first and falls back to the
// local cache when the remote store fails. Successful remote reads and writes
// are mirrored into the local cache.
type EntityRepository[T domain.Entity] struct {
	name   string
	remote store.Store[T]
	local  store.Store[T]
	log    *logger.Logger
}

// NewEntityRepository creates a repository; name labels logs and metrics
func NewEntityRepository[T domain.Entity](name string, remote, local store.Store[T], log *logger.Logger) *EntityRepository[T] {
	if log == nil {
		log = logger.Get()
	}
	return &EntityRepository[T]{
		name:   name,
		remote: remote,
		local:  local,
		log:    log.Named(name),
	}
}

// Name returns the label the repository was created with
func (r *EntityRepository[T]) Name() string {
	return r.name
}

// GetByID returns the entity with the given id
func (r *EntityRepository[T]) GetByID(ctx context.Context, id string) domain.Result[T] {
	ctx, span := telemetry.StartSpan(ctx, "repository."+r.name+".get")
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", id))

	v, err := r.remote.GetByID(ctx, id)
	return r.resolve(ctx, "get "+id, v, err, func(ctx context.Context) (T, error) {
		return r.local.GetByID(ctx, id)
	})
}

// FindByField returns the first entity whose JSON field equals value
func (r *EntityRepository[T]) FindByField(ctx context.Context, field, value string) domain.Result[T] {
	ctx, span := telemetry.StartSpan(ctx, "repository."+r.name+".find")
	defer span.End()
	span.SetAttributes(attribute.String("lookup.field", field))

	v, err := r.remote.GetByField(ctx, field, value)
	return r.resolve(ctx, fmt.Sprintf("find %s=%s", field, value), v, err, func(ctx context.Context) (T, error) {
		return r.local.GetByField(ctx, field, value)
	})
}

func (r *EntityRepository[T]) resolve(ctx context.Context, op string, v T, err error, fallback func(context.Context) (T, error)) domain.Result[T] {
	switch {
	case err == nil:
		metrics.RecordRemoteRead(ctx, r.name)
		if werr := store.Put(ctx, r.local, v); werr != nil {
			r.mirrorFailed(ctx, "put", v.GetID(), werr)
		}
		return domain.FoundResult(v, domain.SourceRemote, nil)
	case errors.Is(err, store.ErrNotFound):
		metrics.RecordRemoteRead(ctx, r.name)
		return domain.NotFoundResult[T]()
	}

	cause := r.unavailable(op, err)
	cached, lerr := fallback(ctx)
	if lerr != nil {
		metrics.RecordUnavailable(ctx, r.name)
		telemetry.SetSpanError(ctx, cause)
		r.log.WarnContext(ctx, "remote read failed and local cache missed",
			zap.String("op", op),
			zap.Error(err),
			zap.NamedError("local_error", lerr),
		)
		return domain.UnavailableResult[T](cause)
	}

	metrics.RecordFallback(ctx, r.name)
	r.log.WarnContext(ctx, "serving stale entity from local cache",
		zap.String("op", op),
		zap.Error(err),
	)
	return domain.FoundResult(cached, domain.SourceLocal, cause)
}

// GetAll returns every entity. The slice is never nil.
func (r *EntityRepository[T]) GetAll(ctx context.Context) domain.Result[[]T] {
	ctx, span := telemetry.StartSpan(ctx, "repository."+r.name+".list")
	defer span.End()

	items, err := r.remote.GetAll(ctx)
	if err == nil {
		metrics.RecordRemoteRead(ctx, r.name)
		if items == nil {
			items = []T{}
		}
		if werr := store.PutAll(ctx, r.local, items); werr != nil {
			r.mirrorFailed(ctx, "put_all", "", werr)
		}
		return domain.FoundResult(items, domain.SourceRemote, nil)
	}

	cause := r.unavailable("list", err)
	cached, lerr := r.local.GetAll(ctx)
	if lerr != nil {
		metrics.RecordUnavailable(ctx, r.name)
		telemetry.SetSpanError(ctx, cause)
		r.log.WarnContext(ctx, "remote list failed and local cache failed",
			zap.Error(err),
			zap.NamedError("local_error", lerr),
		)
		res := domain.UnavailableResult[[]T](cause)
		res.Value = []T{}
		return res
	}

	if cached == nil {
		cached = []T{}
	}
	metrics.RecordFallback(ctx, r.name)
	r.log.WarnContext(ctx, "serving stale list from local cache",
		zap.Int("count", len(cached)),
		zap.Error(err),
	)
	return domain.FoundResult(cached, domain.SourceLocal, cause)
}

// Create writes entity to the remote store and then mirrors it locally
func (r *EntityRepository[T]) Create(ctx context.Context, entity T) error {
	ctx, span := telemetry.StartSpan(ctx, "repository."+r.name+".create")
	defer span.End()

	if err := r.remote.Create(ctx, entity); err != nil {
		telemetry.SetSpanError(ctx, err)
		return r.writeError("create", entity.GetID(), err)
	}
	if err := store.Put(ctx, r.local, entity); err != nil {
		r.mirrorFailed(ctx, "create", entity.GetID(), err)
	}
	return nil
}

// Update writes entity to the remote store and then mirrors it locally
func (r *EntityRepository[T]) Update(ctx context.Context, entity T) error {
	ctx, span := telemetry.StartSpan(ctx, "repository."+r.name+".update")
	defer span.End()

	if err := r.remote.Update(ctx, entity); err != nil {
		telemetry.SetSpanError(ctx, err)
		return r.writeError("update", entity.GetID(), err)
	}
	if err := store.Put(ctx, r.local, entity); err != nil {
		r.mirrorFailed(ctx, "update", entity.GetID(), err)
	}
	return nil
}

// Delete removes the entity from the remote store and then from the cache
func (r *EntityRepository[T]) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repository."+r.name+".delete")
	defer span.End()

	if err := r.remote.Delete(ctx, id); err != nil {
		telemetry.SetSpanError(ctx, err)
		return r.writeError("delete", id, err)
	}
	if err := r.local.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.mirrorFailed(ctx, "delete", id, err)
	}
	return nil
}

func (r *EntityRepository[T]) unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", domain.ErrUnavailable, r.name, op, err)
}

func (r *EntityRepository[T]) writeError(op, id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s %s %s: %w", r.name, op, id, domain.ErrNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%s %s %s: %w", r.name, op, id, err)
	default:
		return r.unavailable(op+" "+id, err)
	}
}

func (r *EntityRepository[T]) mirrorFailed(ctx context.Context, op, id string, err error) {
	metrics.RecordMirrorFailure(ctx, r.name, op)
	r.log.WarnContext(ctx, "local cache write failed",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
}
