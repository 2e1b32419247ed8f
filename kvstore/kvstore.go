// Package kvstore is the persistent key-value store shared by both
// execution contexts. It exposes two scopes:
//
//   - durable: survives restarts (SQLite). Holds "settings" and "forms:<key>".
//   - session: volatile, lives as long as the process. Holds "snapshots:<tab>".
//
// When no session backend is configured, session calls fall through to the
// durable backend; callers must still treat those entries as volatile.
// Values are JSON-encoded.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Backend stores raw bytes under string keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Store is the two-scope key-value store.
type Store struct {
	durable Backend
	session Backend
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSession sets the volatile session backend.
func WithSession(b Backend) Option {
	return func(s *Store) { s.session = b }
}

// WithClock overrides time.Now for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over the durable backend.
func New(durable Backend, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HasSession reports whether a dedicated session backend is configured.
func (s *Store) HasSession() bool { return s.session != nil }

func (s *Store) sessionBackend() Backend {
	if s.session == nil {
		return s.durable
	}
	return s.session
}

// Get decodes the durable value stored under key into dst. It reports
// false when the key is absent.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	return get(ctx, s.durable, key, dst)
}

// Set stores v under key in the durable scope.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	return set(ctx, s.durable, key, v)
}

// Remove deletes key from the durable scope. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.durable.Remove(ctx, key); err != nil {
		return fmt.Errorf("kvstore: remove %s: %w", key, err)
	}
	return nil
}

// GetSession is Get on the session scope.
func (s *Store) GetSession(ctx context.Context, key string, dst any) (bool, error) {
	return get(ctx, s.sessionBackend(), key, dst)
}

// SetSession is Set on the session scope.
func (s *Store) SetSession(ctx context.Context, key string, v any) error {
	return set(ctx, s.sessionBackend(), key, v)
}

// RemoveSession is Remove on the session scope.
func (s *Store) RemoveSession(ctx context.Context, key string) error {
	if err := s.sessionBackend().Remove(ctx, key); err != nil {
		return fmt.Errorf("kvstore: remove session %s: %w", key, err)
	}
	return nil
}

// ttlEntry wraps a durable value with its absolute expiry (epoch ms, 0 = never).
type ttlEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expiresAt"`
}

// SetWithTTL stores v in the durable scope with an expiry. ttl <= 0 never expires.
func (s *Store) SetWithTTL(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: marshal %s: %w", key, err)
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	return set(ctx, s.durable, key, ttlEntry{Value: raw, ExpiresAt: expiresAt})
}

// GetWithTTL reads a value written by SetWithTTL. An expired entry is
// removed and reported as absent.
func (s *Store) GetWithTTL(ctx context.Context, key string, dst any) (bool, error) {
	var entry ttlEntry
	ok, err := get(ctx, s.durable, key, &entry)
	if err != nil || !ok {
		return false, err
	}
	if entry.ExpiresAt != 0 && entry.ExpiresAt < s.now().UnixMilli() {
		if err := s.durable.Remove(ctx, key); err != nil {
			s.logger.Warn("kvstore: remove expired entry", "key", key, "error", err)
		}
		return false, nil
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		return false, fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return true, nil
}

func get(ctx context.Context, b Backend, key string, dst any) (bool, error) {
	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return true, nil
}

func set(ctx context.Context, b Backend, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: marshal %s: %w", key, err)
	}
	if err := b.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	return nil
}
