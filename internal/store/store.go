// Package store holds the persistence backends behind the cache-aside
// repositories: Postgres as the remote source of truth, Redis or process
// memory as the local cache.
package store

import (
	"context"
	"errors"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
)

var (
	// ErrNotFound is returned when no entity matches
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned by Create for a duplicate id
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrUnknownField is returned by GetByField for a field the backend cannot query
	ErrUnknownField = errors.New("store: unknown lookup field")
)

// Store is the CRUD surface shared by the remote store and the local cache.
// Field names passed to GetByField are the entity's JSON names.
type Store[T domain.Entity] interface {
	GetByID(ctx context.Context, id string) (T, error)
	GetByField(ctx context.Context, field, value string) (T, error)
	GetAll(ctx context.Context) ([]T, error)
	Create(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, id string) error
}

// BulkWriter is implemented by stores that can upsert many entities at once
type BulkWriter[T domain.Entity] interface {
	PutAll(ctx context.Context, entities []T) error
}

// Put upserts entity: Update, falling back to Create when it is missing
func Put[T domain.Entity](ctx context.Context, s Store[T], entity T) error {
	err := s.Update(ctx, entity)
	if errors.Is(err, ErrNotFound) {
		err = s.Create(ctx, entity)
	}
	return err
}

// PutAll upserts entities, in one call when the store supports it
func PutAll[T domain.Entity](ctx context.Context, s Store[T], entities []T) error {
	if bw, ok := s.(BulkWriter[T]); ok {
		return bw.PutAll(ctx, entities)
	}
	var errs []error
	for _, e := range entities {
		if err := Put(ctx, s, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
