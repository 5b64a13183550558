package domain

import "time"

// SSOBinding links a local user account to an identity at an external
// OAuth2 provider. A given (provider, provider user id) pair maps to at
// most one local user, and a user holds at most one binding per provider.
// Both invariants are enforced by unique indexes in the store.
type SSOBinding struct {
	ID               string    `bson:"_id,omitempty" json:"id,omitempty"`
	UserID           string    `bson:"user_id" json:"user_id"`
	Provider         string    `bson:"provider" json:"provider"`
	ProviderUserID   string    `bson:"provider_user_id" json:"provider_user_id"`
	ProviderEmail    string    `bson:"provider_email,omitempty" json:"provider_email,omitempty"`
	ProviderUsername string    `bson:"provider_username,omitempty" json:"provider_username,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}
