package domain

import "time"

// UserStatus defines the possible statuses of a user account.
type UserStatus string

const (
	UserStatusActive  UserStatus = "ACTIVE"
	UserStatusLocked  UserStatus = "LOCKED"
	UserStatusPending UserStatus = "PENDING_ACTIVATION"
)

// User represents a local account in the credential service.
type User struct {
	ID       string `bson:"_id,omitempty"`
	Username string `bson:"username"`
	Email    string `bson:"email,omitempty"`

	// PasswordHash is empty for accounts that only sign in through SSO or
	// passkeys.
	PasswordHash string `bson:"password_hash,omitempty"`

	Roles []string `bson:"roles,omitempty"`

	// EncryptionKey is a per-user AES-256 key. TOTP secrets and passkey
	// device labels are encrypted with it before they are persisted.
	EncryptionKey []byte `bson:"encryption_key"`

	Status      UserStatus `bson:"status"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
	LastLoginAt *time.Time `bson:"last_login_at,omitempty"`
}

// HasPassword reports whether password login is available for the account.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
