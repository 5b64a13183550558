package cache

import (
	"context"
	"time"
)

// RevocationStore is a fast deny-list of revoked token lineages sitting
// in front of the token ledger. Access tokens verify offline; only the
// revocation check needs shared state, and a revoked lineage is cached
// here so repeated validations of dead tokens skip the ledger.
//
// Entries only need to outlive the longest access token TTL: after that
// every token in the lineage is expired anyway.
//
//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type RevocationStore interface {
	// MarkRevoked records the lineage as revoked for at least ttl.
	MarkRevoked(ctx context.Context, lineageID string, ttl time.Duration) error
	// IsRevoked reports whether the lineage is known to be revoked. A
	// false result is not authoritative; callers fall through to the
	// ledger.
	IsRevoked(ctx context.Context, lineageID string) (bool, error)
}
