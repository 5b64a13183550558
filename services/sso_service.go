package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/audit"
	"go.craftbench.dev/auth/internal/federation"
)

// SSOService manages bindings between local accounts and external
// identity-provider accounts, and resolves a local user from an OAuth2
// authorization code during login. Login through SSO never creates an
// account: an identity without a binding is rejected.
type SSOService struct {
	providers *federation.Service
	bindings  domain.SSOBindingRepository
	users     domain.UserRepository
	passkeys  domain.PasskeyRepository
}

// NewSSOService wires the binding manager over the provider registry and
// the credential store.
func NewSSOService(
	providers *federation.Service,
	bindings domain.SSOBindingRepository,
	users domain.UserRepository,
	passkeys domain.PasskeyRepository,
) *SSOService {
	return &SSOService{
		providers: providers,
		bindings:  bindings,
		users:     users,
		passkeys:  passkeys,
	}
}

// ExchangeAndIdentify swaps the one-time authorization code for a
// verified external identity and resolves the local user bound to it.
// Returns ErrBindingNotFound when the identity is valid but unbound.
func (s *SSOService) ExchangeAndIdentify(ctx context.Context, provider, code string) (string, error) {
	identity, err := s.fetchIdentity(ctx, provider, code)
	if err != nil {
		return "", err
	}

	binding, err := s.bindings.GetByProviderUserID(ctx, provider, identity.ProviderUserID)
	if err != nil {
		return "", err
	}
	return binding.UserID, nil
}

// AddBinding exchanges the code and binds the resulting identity to the
// user. It fails when the user already has a binding for this provider
// or when the identity is already bound to a different account; neither
// failure mutates any existing binding.
func (s *SSOService) AddBinding(ctx context.Context, userID, provider, code string) (*domain.SSOBinding, error) {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	identity, err := s.fetchIdentity(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	binding := &domain.SSOBinding{
		UserID:           userID,
		Provider:         provider,
		ProviderUserID:   identity.ProviderUserID,
		ProviderEmail:    identity.Email,
		ProviderUsername: identity.Username,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	// The store's unique indexes on (user, provider) and
	// (provider, provider user id) enforce both invariants atomically.
	if err := s.bindings.Create(ctx, binding); err != nil {
		return nil, err
	}

	audit.Log("sso", "add_binding", userID, provider, identity.Username, true, nil)
	return binding, nil
}

// DeleteBinding removes the user's binding for the provider. Removing
// the account's last remaining login method is refused: a user with no
// password and no passkeys must keep at least one binding.
func (s *SSOService) DeleteBinding(ctx context.Context, userID, provider string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() {
		creds, err := s.passkeys.ListCredentialsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("listing credentials: %w", err)
		}
		if len(creds) == 0 {
			bindings, err := s.bindings.ListByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("listing bindings: %w", err)
			}
			if len(bindings) <= 1 {
				return errors.ErrLastLoginMethod
			}
		}
	}

	if err := s.bindings.Delete(ctx, userID, provider); err != nil {
		return err
	}
	audit.Log("sso", "delete_binding", userID, provider, "", true, nil)
	return nil
}

// ListBindings returns the user's provider bindings.
func (s *SSOService) ListBindings(ctx context.Context, userID string) ([]*domain.SSOBinding, error) {
	return s.bindings.ListByUser(ctx, userID)
}

// Providers lists the configured provider names.
func (s *SSOService) Providers() []string {
	return s.providers.Names()
}

func (s *SSOService) fetchIdentity(ctx context.Context, provider, code string) (*federation.ExternalIdentity, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	token, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	identity, err := p.FetchIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("provider", provider).
		Str("provider_user_id", identity.ProviderUserID).
		Msg("external identity resolved")
	return identity, nil
}
