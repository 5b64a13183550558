package domain

import "time"

// Passkey ceremony purposes. A challenge is only valid for the ceremony it
// was issued for.
const (
	ChallengePurposeRegistration   = "registration"
	ChallengePurposeAuthentication = "authentication"
)

// PasskeyCredential is a public-key credential registered by an
// authenticator. The credential identifier is globally unique; the
// signature counter is monotonically non-decreasing across successful
// authentications and is advanced with a compare-and-swap so concurrent
// assertions cannot both be accepted.
type PasskeyCredential struct {
	ID           string `bson:"_id,omitempty"`
	UserID       string `bson:"user_id"`
	CredentialID string `bson:"credential_id"`

	// PublicKey is the PKIX, ASN.1 DER encoding of the authenticator's
	// ECDSA P-256 public key.
	PublicKey []byte `bson:"public_key"`

	SignCount  uint32   `bson:"sign_count"`
	AAGUID     string   `bson:"aaguid,omitempty"`
	Transports []string `bson:"transports,omitempty"`

	// DeviceName is the user-supplied label, encrypted with the owner's
	// per-user key.
	DeviceName []byte `bson:"device_name,omitempty"`

	CreatedAt  time.Time  `bson:"created_at"`
	LastUsedAt *time.Time `bson:"last_used_at,omitempty"`
}

// PasskeyChallenge is an outstanding ceremony challenge. Challenges are
// single-use: consuming one is an atomic delete-and-return, and it is
// discarded whether or not the verification that follows succeeds.
// Authentication challenges carry no user id (the credential resolves the
// user), registration challenges are bound to the enrolling user.
type PasskeyChallenge struct {
	ID        string    `bson:"_id,omitempty"`
	Challenge string    `bson:"challenge"`
	UserID    string    `bson:"user_id,omitempty"`
	Purpose   string    `bson:"purpose"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// Expired reports whether the challenge is past its expiry at time now.
func (c *PasskeyChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
