package domain

import (
	"context"
	"time"
)

// UserRepository defines access to persisted user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error
}

// SSOBindingRepository defines access to external identity bindings. The
// store enforces uniqueness of both (user, provider) and
// (provider, provider user id).
type SSOBindingRepository interface {
	Create(ctx context.Context, binding *SSOBinding) error
	GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*SSOBinding, error)
	GetByUserAndProvider(ctx context.Context, userID, provider string) (*SSOBinding, error)
	ListByUser(ctx context.Context, userID string) ([]*SSOBinding, error)
	Delete(ctx context.Context, userID, provider string) error
}

// PasskeyRepository defines access to passkey credentials and outstanding
// ceremony challenges.
type PasskeyRepository interface {
	CreateCredential(ctx context.Context, cred *PasskeyCredential) error
	GetCredentialByCredentialID(ctx context.Context, credentialID string) (*PasskeyCredential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]*PasskeyCredential, error)

	// UpdateSignCount advances the signature counter from fromCount to
	// toCount as a compare-and-swap. It returns false when the stored
	// counter no longer equals fromCount, meaning a concurrent assertion
	// won the race.
	UpdateSignCount(ctx context.Context, credentialID string, fromCount, toCount uint32, usedAt time.Time) (bool, error)

	DeleteCredential(ctx context.Context, userID, credentialID string) error

	SaveChallenge(ctx context.Context, challenge *PasskeyChallenge) error

	// ConsumeChallenge atomically removes and returns the challenge.
	// It returns ErrChallengeNotFound when the challenge does not exist
	// or was already consumed.
	ConsumeChallenge(ctx context.Context, challenge string) (*PasskeyChallenge, error)
}

// TwoFactorRepository defines access to second-factor secrets and
// recovery codes.
type TwoFactorRepository interface {
	UpsertSecret(ctx context.Context, secret *TwoFactorSecret) error
	GetSecret(ctx context.Context, userID string) (*TwoFactorSecret, error)
	MarkVerified(ctx context.Context, userID string) error

	// AdvanceLastUsedStep moves the high-water TOTP step forward. It
	// returns false when the stored step is already at or past the given
	// step, which means the code was replayed.
	AdvanceLastUsedStep(ctx context.Context, userID string, step int64) (bool, error)

	DeleteSecret(ctx context.Context, userID string) error

	ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error
	ListRecoveryCodes(ctx context.Context, userID string) ([]*RecoveryCode, error)

	// ConsumeRecoveryCode deletes the code row if it still exists. The
	// boolean result reports whether this call performed the delete, so
	// concurrent consumers see exactly one success.
	ConsumeRecoveryCode(ctx context.Context, id string) (bool, error)

	CountRecoveryCodes(ctx context.Context, userID string) (int64, error)
	DeleteRecoveryCodes(ctx context.Context, userID string) error
}

// TokenRepository is the token ledger: refresh token rows and lineage
// revocation state.
type TokenRepository interface {
	StoreRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// TouchRefreshToken extends the expiry of a still-valid refresh
	// token. The update is conditional on the row being unrevoked and
	// unexpired, which serializes rotation against lineage revocation.
	TouchRefreshToken(ctx context.Context, tokenHash string, expiresAt, now time.Time) (bool, error)

	// RevokeLineage marks the lineage revoked and flags every refresh
	// token in it. It is idempotent.
	RevokeLineage(ctx context.Context, lineageID, userID string) error
	IsLineageRevoked(ctx context.Context, lineageID string) (bool, error)

	// RevokeAllForUser revokes every lineage with an unexpired refresh
	// token belonging to the user.
	RevokeAllForUser(ctx context.Context, userID string) error
}
