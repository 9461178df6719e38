package targets

import (
	"context"
	"sync"
	"time"

	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

// CachedStore serves unscoped ListActive calls from a snapshot that lives for
// ttl. Writes made through it, and explicit Invalidate calls, drop the
// snapshot. A non-positive ttl disables caching.
type CachedStore struct {
	Store

	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	snapshot []*models.Target
	loadedAt time.Time
	valid    bool
}

func NewCachedStore(store Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *CachedStore) ListActive(ctx context.Context, ownerID string) ([]*models.Target, error) {
	if ownerID != "" || c.ttl <= 0 {
		return c.Store.ListActive(ctx, ownerID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		return append([]*models.Target(nil), c.snapshot...), nil
	}

	list, err := c.Store.ListActive(ctx, "")
	if err != nil {
		return nil, err
	}
	c.snapshot = list
	c.loadedAt = c.now()
	c.valid = true

	return append([]*models.Target(nil), list...), nil
}

func (c *CachedStore) Create(ctx context.Context, fields models.TargetFields, ownerID string) (*models.Target, error) {
	t, err := c.Store.Create(ctx, fields, ownerID)
	if err == nil {
		c.Invalidate()
	}
	return t, err
}

func (c *CachedStore) Update(ctx context.Context, id string, fields models.TargetFields, ownerID string) (*models.Target, error) {
	t, err := c.Store.Update(ctx, id, fields, ownerID)
	if err == nil && t != nil {
		c.Invalidate()
	}
	return t, err
}

func (c *CachedStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	deleted, err := c.Store.Delete(ctx, id, ownerID)
	if err == nil && deleted {
		c.Invalidate()
	}
	return deleted, err
}

// Invalidate drops the snapshot. Call it after changing targets outside the
// store, such as deleting their owner.
func (c *CachedStore) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.snapshot = nil
	c.mu.Unlock()
}
