package store

import (
	"context"
	"sort"
	"sync"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
)

// MemoryStore keeps JSON copies of entities so callers never share pointers
// with the store.
type MemoryStore[T domain.Entity] struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore[T domain.Entity]() *MemoryStore[T] {
	return &MemoryStore[T]{items: make(map[string][]byte)}
}

func (s *MemoryStore[T]) GetByID(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	data, ok := s.items[id]
	s.mu.RUnlock()

	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return decode[T](data)
}

func (s *MemoryStore[T]) GetByField(ctx context.Context, field, value string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.sortedIDs() {
		if data := s.items[id]; fieldEquals(data, field, value) {
			return decode[T](data)
		}
	}
	var zero T
	return zero, ErrNotFound
}

// GetAll returns every entity ordered by id
func (s *MemoryStore[T]) GetAll(ctx context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.items))
	for _, id := range s.sortedIDs() {
		v, err := decode[T](s.items[id])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryStore[T]) Create(ctx context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[entity.GetID()]; exists {
		return ErrAlreadyExists
	}
	s.items[entity.GetID()] = data
	return nil
}

func (s *MemoryStore[T]) Update(ctx context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[entity.GetID()]; !exists {
		return ErrNotFound
	}
	s.items[entity.GetID()] = data
	return nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// PutAll upserts all entities under one lock
func (s *MemoryStore[T]) PutAll(ctx context.Context, entities []T) error {
	encoded := make(map[string][]byte, len(entities))
	for _, e := range entities {
		data, err := encode(e)
		if err != nil {
			return err
		}
		encoded[e.GetID()] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, data := range encoded {
		s.items[id] = data
	}
	return nil
}

// Len returns the number of stored entities
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// sortedIDs must be called with s.mu held
func (s *MemoryStore[T]) sortedIDs() []string {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
