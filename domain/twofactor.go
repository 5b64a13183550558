package domain

import "time"

// TwoFactorMethod identifies the kind of second factor a secret backs.
type TwoFactorMethod string

const TwoFactorMethodTOTP TwoFactorMethod = "TOTP"

// TwoFactorSecret holds a user's second-factor secret. At most one secret
// exists per (user, method). An unverified secret never gates login and
// cannot satisfy a second-factor check.
type TwoFactorSecret struct {
	ID     string          `bson:"_id,omitempty"`
	UserID string          `bson:"user_id"`
	Method TwoFactorMethod `bson:"method"`

	// Secret is the base32 TOTP secret, AES-GCM encrypted with the
	// owner's per-user key.
	Secret []byte `bson:"secret"`

	Verified bool `bson:"verified"`

	// LastUsedStep is the highest TOTP time step a code has been accepted
	// for. It is advanced with a conditional write so a code cannot be
	// accepted twice for the same or an earlier step.
	LastUsedStep int64 `bson:"last_used_step"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// RecoveryCode is a single-use fallback credential for a user's 2FA setup.
// Only the bcrypt hash of the code is stored; the row is deleted when the
// code is consumed.
type RecoveryCode struct {
	ID        string    `bson:"_id,omitempty"`
	UserID    string    `bson:"user_id"`
	CodeHash  string    `bson:"code_hash"`
	CreatedAt time.Time `bson:"created_at"`
}
