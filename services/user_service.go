package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/audit"
	"go.craftbench.dev/auth/internal/crypto"
)

// sessionRevoker is the slice of TokenService the user service needs to
// kill sessions after credential changes.
type sessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

// UserService handles account lifecycle: registration, status changes,
// and password changes.
type UserService struct {
	users  domain.UserRepository
	hasher PasswordHasher
	tokens sessionRevoker
}

// NewUserService wires the account service.
func NewUserService(users domain.UserRepository, hasher PasswordHasher, tokens sessionRevoker) *UserService {
	return &UserService{users: users, hasher: hasher, tokens: tokens}
}

// Register creates a new active account. A per-user encryption key is
// minted here; TOTP secrets and passkey metadata are sealed with it for
// the account's whole lifetime. Password may be empty for accounts that
// will only ever sign in through SSO or passkeys.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	var passwordHash string
	if password != "" {
		var err error
		passwordHash, err = s.hasher.Hash(password)
		if err != nil {
			return nil, err
		}
	}

	key, err := crypto.NewEncryptionKey()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		Username:      username,
		Email:         email,
		PasswordHash:  passwordHash,
		Roles:         []string{"user"},
		EncryptionKey: key,
		Status:        domain.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	audit.Log("user", "register", user.ID, "", username, true, nil)
	return user, nil
}

// Get returns the account by id.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// ChangePassword replaces the account password and revokes every live
// session, so a stolen refresh token dies with the old password. The
// old password must verify first unless the account had none.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.HasPassword() {
		if err := s.hasher.Verify(user.PasswordHash, oldPassword); err != nil {
			return errors.ErrInvalidCredentials
		}
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return err
	}

	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		// The password did change. Report the partial failure instead of
		// pretending the old sessions are gone.
		log.Error().Err(err).Str("user_id", userID).Msg("revoking sessions after password change failed")
		return err
	}

	audit.Log("user", "change_password", userID, "", "", true, nil)
	return nil
}

// SetStatus locks or unlocks the account. Locking also revokes all live
// sessions.
func (s *UserService) SetStatus(ctx context.Context, userID string, status domain.UserStatus) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	user.Status = status
	user.UpdatedAt = time.Now()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return err
	}

	if status == domain.UserStatusLocked {
		if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
			return err
		}
	}

	audit.Log("user", "set_status", userID, "", string(status), true, nil)
	return nil
}
