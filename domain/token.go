package domain

import "time"

// RefreshToken is a persisted ledger row for an opaque refresh token. The
// token value itself is never stored, only its SHA-256 hash.
type RefreshToken struct {
	ID        string `bson:"_id,omitempty"`
	TokenHash string `bson:"token_hash"`
	UserID    string `bson:"user_id"`

	// LineageID ties the refresh token to every access token minted from
	// it. Revocation operates on the lineage, not on individual tokens.
	LineageID string `bson:"lineage_id"`

	ExpiresAt  time.Time `bson:"expires_at"`
	CreatedAt  time.Time `bson:"created_at"`
	LastUsedAt time.Time `bson:"last_used_at"`
	IsRevoked  bool      `bson:"is_revoked,omitempty"`
}

// RevokedLineage records that a token lineage has been revoked. Every
// access and refresh token carrying the lineage id is invalid from the
// moment this row exists.
type RevokedLineage struct {
	LineageID string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	RevokedAt time.Time `bson:"revoked_at"`
}

// TokenPair is a freshly minted access/refresh token pair sharing one
// lineage.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SessionClaims is the verified content of an access token.
type SessionClaims struct {
	UserID    string
	LineageID string
	TokenID   string
	Roles     []string
	ExpiresAt time.Time
}
