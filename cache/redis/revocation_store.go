// Package redis provides the Redis-backed revocation store used when the
// service runs as more than one instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth:revoked_lineage:"

// RevocationStore implements cache.RevocationStore on Redis.
type RevocationStore struct {
	client *redis.Client
}

// NewRevocationStore creates a Redis revocation store.
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client}
}

// MarkRevoked records the lineage as revoked for at least ttl.
func (s *RevocationStore) MarkRevoked(ctx context.Context, lineageID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+lineageID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark lineage revoked: %w", err)
	}
	return nil
}

// IsRevoked reports whether the lineage is in the deny list.
func (s *RevocationStore) IsRevoked(ctx context.Context, lineageID string) (bool, error) {
	err := s.client.Get(ctx, keyPrefix+lineageID).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lineage revocation: %w", err)
	}
	return true, nil
}
