package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/retrace/kvstore"
)

// Key is the durable store key holding the settings record.
const Key = "settings"

// Source yields the current settings.
type Source interface {
	Settings(ctx context.Context) (Settings, error)
}

// Store persists the settings record in the durable scope.
type Store struct {
	kv *kvstore.Store
}

// NewStore creates a Store over kv.
func NewStore(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Settings loads the stored record, with defaults filling any field the
// stored record lacks.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	out := Defaults()
	if _, err := s.kv.Get(ctx, Key, &out); err != nil {
		return Defaults(), fmt.Errorf("settings: load: %w", err)
	}
	return out.clone(), nil
}

// Save replaces the stored record.
func (s *Store) Save(ctx context.Context, v Settings) error {
	if err := s.kv.Set(ctx, Key, v); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Update merges p over the stored record, persists and returns the result.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	cur, err := s.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := cur.Merge(p)
	if err := s.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// Cache is one execution context's view of the settings. It reads through
// to the Store once and then serves the cached copy. Only a local Update or
// Invalidate refreshes it; writes made by other contexts are not observed.
type Cache struct {
	store *Store

	mu     sync.Mutex
	cached *Settings
}

// NewCache creates an empty Cache over store.
func NewCache(store *Store) *Cache {
	return &Cache{store: store}
}

// Settings returns the cached record, loading it on first use.
func (c *Cache) Settings(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return c.cached.clone(), nil
	}
	v, err := c.store.Settings(ctx)
	if err != nil {
		return v, err
	}
	c.cached = &v
	return v.clone(), nil
}

// Update persists p through the Store and replaces the cached record.
func (c *Cache) Update(ctx context.Context, p Patch) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.store.Update(ctx, p)
	if err != nil {
		return v, err
	}
	c.cached = &v
	return v.clone(), nil
}

// SetSiteDisabled toggles one origin in SiteDisabled and persists the record.
func (c *Cache) SetSiteDisabled(ctx context.Context, site string, disabled bool) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.store.Settings(ctx)
	if err != nil {
		return cur, err
	}
	next := cur.WithSiteDisabled(site, disabled)
	if err := c.store.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	c.cached = &next
	return next.clone(), nil
}

// Invalidate drops the cached record so the next read goes to the Store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
