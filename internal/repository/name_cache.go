package repository

import (
	"context"
	"sync"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/metrics"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// UserSource is the read side of the user repository
type UserSource interface {
	GetByID(ctx context.Context, id string) domain.Result[*domain.User]
	GetAll(ctx context.Context) domain.Result[[]*domain.User]
}

// NameCache maps user ids to full names for the life of the process.
// Only names read from the remote store are cached; failures and stale
// reads are retried on the next lookup.
type NameCache struct {
	users UserSource
	log   *logger.Logger

	mu    sync.RWMutex
	names map[string]string
	group singleflight.Group
}

// NewNameCache creates an empty cache over users
func NewNameCache(users UserSource, log *logger.Logger) *NameCache {
	if log == nil {
		log = logger.Get()
	}
	return &NameCache{
		users: users,
		log:   log.Named("name_cache"),
		names: make(map[string]string),
	}
}

// Lookup returns a cached name without touching the user store
func (c *NameCache) Lookup(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok
}

// Len returns the number of cached names
func (c *NameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Resolve returns the full name for id, or "" when it cannot be determined
func (c *NameCache) Resolve(ctx context.Context, id string) string {
	if name, ok := c.Lookup(id); ok {
		metrics.NameCacheHits.Inc(ctx)
		return name
	}
	metrics.NameCacheMisses.Inc(ctx)

	// The shared fetch outlives any one caller; each caller stops waiting
	// when its own context ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		if name, ok := c.Lookup(id); ok {
			return name, nil
		}

		res := c.users.GetByID(fetchCtx, id)
		if !res.OK() {
			c.log.Debug("name lookup failed",
				zap.String("user_id", id),
				zap.Stringer("status", res.Status),
				zap.Error(res.Err),
			)
			return "", nil
		}
		if res.Stale() {
			return res.Value.FullName, nil
		}

		c.store(id, res.Value.FullName)
		return res.Value.FullName, nil
	})

	select {
	case r := <-ch:
		return r.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

// Preload fills the cache for ids with one bulk fetch. When the bulk fetch
// fails each missing id is resolved on its own.
func (c *NameCache) Preload(ctx context.Context, ids []string) {
	missing := c.missing(ids)
	if len(missing) == 0 {
		return
	}

	res := c.users.GetAll(ctx)
	if !res.OK() || res.Stale() {
		c.log.Warn("bulk user fetch failed, resolving names one by one",
			zap.Int("missing", len(missing)),
			zap.Error(res.Err),
		)
		for _, id := range missing {
			c.Resolve(ctx, id)
		}
		return
	}

	want := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		want[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range res.Value {
		if u == nil {
			continue
		}
		if _, ok := want[u.ID]; ok {
			c.names[u.ID] = u.FullName
		}
	}
}

func (c *NameCache) missing(ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.names[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (c *NameCache) store(id, name string) {
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
}
