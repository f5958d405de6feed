package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/pkg/redis"
)

// RedisStore is the local cache for one entity kind: a single hash of
// id -> JSON document. Entries do not expire; the remote store overwrites
// them on every successful read.
type RedisStore[T domain.Entity] struct {
	client *goredis.Client
	key    string
}

// NewRedisStore creates a cache for entities of the given kind, e.g. "events"
func NewRedisStore[T domain.Entity](client *redis.Client, kind string) *RedisStore[T] {
	return &RedisStore[T]{
		client: client.Client(),
		key:    client.Key("cache", kind),
	}
}

func (s *RedisStore[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := s.client.HGet(ctx, s.key, id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("redis hget %s: %w", s.key, err)
	}
	return decode[T](data)
}

func (s *RedisStore[T]) GetByField(ctx context.Context, field, value string) (T, error) {
	var zero T
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return zero, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	for _, id := range sortedKeys(all) {
		if data := []byte(all[id]); fieldEquals(data, field, value) {
			return decode[T](data)
		}
	}
	return zero, ErrNotFound
}

// GetAll returns the full cached snapshot ordered by id
func (s *RedisStore[T]) GetAll(ctx context.Context) ([]T, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}

	out := make([]T, 0, len(all))
	for _, id := range sortedKeys(all) {
		v, err := decode[T]([]byte(all[id]))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *RedisStore[T]) Create(ctx context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}
	ok, err := s.client.HSetNX(ctx, s.key, entity.GetID(), data).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx %s: %w", s.key, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Update overwrites the cached copy. A cache has no reason to refuse an
// update for an id it has not seen, so this is an upsert.
func (s *RedisStore[T]) Update(ctx context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, entity.GetID(), data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore[T]) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.key, id).Result()
	if err != nil {
		return fmt.Errorf("redis hdel %s: %w", s.key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutAll writes all entities with a single HSET
func (s *RedisStore[T]) PutAll(ctx context.Context, entities []T) error {
	if len(entities) == 0 {
		return nil
	}
	values := make([]any, 0, len(entities)*2)
	for _, e := range entities {
		data, err := encode(e)
		if err != nil {
			return err
		}
		values = append(values, e.GetID(), data)
	}
	if err := s.client.HSet(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.key, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
