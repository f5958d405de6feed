package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSagaNotFound is returned when a saga instance is not found
	ErrSagaNotFound = errors.New("saga instance not found")
	// ErrSagaAlreadyExists is returned when trying to create a duplicate saga
	ErrSagaAlreadyExists = errors.New("saga instance already exists")
)

// Store persists saga state
type Store interface {
	Save(ctx context.Context, instance *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	Update(ctx context.Context, instance *Instance) error
	// ListByStatus returns up to limit instances in status; limit <= 0 means all
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error)
}

// MemoryStore keeps saga instances in process
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string][]byte
}

// NewMemoryStore creates a new in-memory saga store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string][]byte)}
}

// Save persists a new saga instance
func (s *MemoryStore) Save(ctx context.Context, instance *Instance) error {
	data, err := instance.ToJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[instance.ID]; exists {
		return ErrSagaAlreadyExists
	}
	s.instances[instance.ID] = data
	return nil
}

// Get returns a copy of the stored instance
func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	data, exists := s.instances[id]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrSagaNotFound
	}
	return FromJSON(data)
}

// Update replaces an existing saga instance
func (s *MemoryStore) Update(ctx context.Context, instance *Instance) error {
	data, err := instance.ToJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[instance.ID]; !exists {
		return ErrSagaNotFound
	}
	s.instances[instance.ID] = data
	return nil
}

// ListByStatus returns instances in the given status
func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Instance
	for _, data := range s.instances {
		instance, err := FromJSON(data)
		if err != nil {
			return nil, err
		}
		if instance.Status != status {
			continue
		}
		result = append(result, instance)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Count returns the number of stored instances
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// RedisStore keeps saga instances as JSON strings with a TTL
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	expiration time.Duration
}

// NewRedisStore creates a new Redis-based saga store
func NewRedisStore(client *redis.Client, keyPrefix string, expiration time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "saga:"
	}
	if expiration == 0 {
		expiration = 7 * 24 * time.Hour
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  keyPrefix,
		expiration: expiration,
	}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Save persists a new saga instance
func (s *RedisStore) Save(ctx context.Context, instance *Instance) error {
	data, err := instance.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize saga instance: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(instance.ID), data, s.expiration).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSagaAlreadyExists
	}
	return nil
}

// Get retrieves a saga instance by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*Instance, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}
	return FromJSON(data)
}

// Update replaces an existing saga instance
func (s *RedisStore) Update(ctx context.Context, instance *Instance) error {
	data, err := instance.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize saga instance: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(instance.ID), data, s.expiration).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSagaNotFound
	}
	return nil
}

// ListByStatus scans the key space for instances in status
func (s *RedisStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error) {
	var result []*Instance

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		instance, err := FromJSON(data)
		if err != nil || instance.Status != status {
			continue
		}
		result = append(result, instance)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan saga keys: %w", err)
	}
	return result, nil
}
