package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryRevocationStore implements RevocationStore using ttlcache. It is
// the default for single-instance deployments; multi-instance setups use
// the Redis store so a logout on one instance is seen by all.
type MemoryRevocationStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryRevocationStore creates an in-memory revocation store with
// automatic expiry cleanup.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	return &MemoryRevocationStore{cache: cache}
}

// MarkRevoked implements RevocationStore.MarkRevoked.
func (s *MemoryRevocationStore) MarkRevoked(_ context.Context, lineageID string, ttl time.Duration) error {
	s.cache.Set(lineageID, struct{}{}, ttl)
	return nil
}

// IsRevoked implements RevocationStore.IsRevoked.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, lineageID string) (bool, error) {
	return s.cache.Has(lineageID), nil
}

// Stop shuts down the background cleanup goroutine.
func (s *MemoryRevocationStore) Stop() {
	s.cache.Stop()
}
