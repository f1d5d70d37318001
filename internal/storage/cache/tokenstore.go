package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a decorator that adds read-aside caching to any
// dispatch.TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// Fetch reads the bucketed targets from cache when possible and falls back to
// the source of truth on a miss. Cache population is fire-and-forget: if
// Redis is down we just serve from the real store.
func (s *CachedTokenStore) Fetch(ctx context.Context, userID string) (*dispatch.DeviceTargets, error) {
	key := s.cacheKey(userID)
	var cached dispatch.DeviceTargets

	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// Register writes through and invalidates, so the next fan-out sees the new
// device immediately.
func (s *CachedTokenStore) Register(ctx context.Context, userID string, token notify.PushToken) error {
	if err := s.realStore.Register(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// Unregister must clear the cache even though the DB write succeeded, so
// pushes to the removed device stop immediately.
func (s *CachedTokenStore) Unregister(ctx context.Context, userID string, token string) error {
	if err := s.realStore.Unregister(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) error {
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("notify:tokens:%s", userID)
}
