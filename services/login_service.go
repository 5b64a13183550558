package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/audit"
	"go.craftbench.dev/auth/internal/federation"
	"go.craftbench.dev/auth/internal/metrics"
)

// LoginAttempt is the tagged union of first factors. Exactly one
// concrete attempt type is passed per login call.
type LoginAttempt interface {
	isLoginAttempt()
}

// PasswordAttempt is a username/password first factor.
type PasswordAttempt struct {
	Username string
	Password string
}

// SSOAttempt is an OAuth2 authorization-code first factor.
type SSOAttempt struct {
	Provider string
	Code     string
}

// PasskeyAttempt is a passkey assertion first factor. The assertion
// resolves the user by itself; no username accompanies it.
type PasskeyAttempt struct {
	Assertion *AssertionResponse
}

func (PasswordAttempt) isLoginAttempt() {}
func (SSOAttempt) isLoginAttempt()      {}
func (PasskeyAttempt) isLoginAttempt()  {}

// LoginResult is the outcome of a successful first factor: either a
// full session, or a pending token when a second factor still stands
// between the user and a session.
type LoginResult struct {
	UserID               string            `json:"user_id"`
	SecondFactorRequired bool              `json:"second_factor_required"`
	PendingToken         string            `json:"pending_token,omitempty"`
	Session              *domain.TokenPair `json:"session,omitempty"`
}

// The orchestrator depends on narrow slices of its collaborators so
// tests can substitute each factor independently.
type (
	sessionIssuer interface {
		IssueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error)
		IssuePendingToken(userID string) (string, error)
	}
	ssoIdentifier interface {
		ExchangeAndIdentify(ctx context.Context, provider, code string) (string, error)
	}
	passkeyAuthenticator interface {
		FinishAuthentication(ctx context.Context, resp *AssertionResponse) (string, error)
	}
	secondFactorGate interface {
		Enabled(ctx context.Context, userID string) (bool, error)
	}
)

// LoginService sequences a login: exactly one first factor, a check for
// a verified second factor, and only then a session mint. Every first
// factor failure collapses into ErrInvalidCredentials so a caller can
// not learn which field or factor was wrong; the one exception is a
// passkey counter regression, which surfaces as its own signal.
type LoginService struct {
	users     domain.UserRepository
	hasher    PasswordHasher
	tokens    sessionIssuer
	sso       ssoIdentifier
	passkeys  passkeyAuthenticator
	twoFactor secondFactorGate
}

// NewLoginService wires the orchestrator.
func NewLoginService(
	users domain.UserRepository,
	hasher PasswordHasher,
	tokens sessionIssuer,
	sso ssoIdentifier,
	passkeys passkeyAuthenticator,
	twoFactor secondFactorGate,
) *LoginService {
	return &LoginService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		sso:       sso,
		passkeys:  passkeys,
		twoFactor: twoFactor,
	}
}

// Login runs the first factor named by the attempt. When the resolved
// account has a verified second factor, the result carries a pending
// token instead of a session; CompleteLogin on the two-factor service
// finishes the flow.
func (s *LoginService) Login(ctx context.Context, attempt LoginAttempt) (*LoginResult, error) {
	user, err := s.firstFactor(ctx, attempt)
	if err != nil {
		metrics.LoginFailureTotal.Inc()
		return nil, err
	}

	if user.Status != domain.UserStatusActive {
		metrics.LoginFailureTotal.Inc()
		audit.Log("login", "first_factor", user.ID, "", "account not active", false, errors.ErrAccountLocked)
		return nil, errors.ErrAccountLocked
	}

	gated, err := s.twoFactor.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if gated {
		pending, err := s.tokens.IssuePendingToken(user.ID)
		if err != nil {
			return nil, err
		}
		metrics.SecondFactorRequiredTotal.Inc()
		log.Debug().Str("user_id", user.ID).Msg("second factor required")
		return &LoginResult{
			UserID:               user.ID,
			SecondFactorRequired: true,
			PendingToken:         pending,
		}, nil
	}

	session, err := s.tokens.IssueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.touchLastLogin(ctx, user)
	metrics.LoginSuccessTotal.Inc()
	audit.Log("login", "first_factor", user.ID, "", "", true, nil)

	return &LoginResult{UserID: user.ID, Session: session}, nil
}

// firstFactor dispatches on the attempt tag and resolves the account.
// Protocol rejections from the factor implementations are folded into
// the uniform invalid-credentials outcome here.
func (s *LoginService) firstFactor(ctx context.Context, attempt LoginAttempt) (*domain.User, error) {
	switch a := attempt.(type) {
	case PasswordAttempt:
		return s.passwordFactor(ctx, a)
	case SSOAttempt:
		userID, err := s.sso.ExchangeAndIdentify(ctx, a.Provider, a.Code)
		if err != nil {
			if errors.Is(err, errors.ErrBindingNotFound) || errors.Is(err, federation.ErrExchangeCodeFailed) {
				return nil, errors.ErrInvalidCredentials
			}
			return nil, err
		}
		return s.users.GetUserByID(ctx, userID)
	case PasskeyAttempt:
		userID, err := s.passkeys.FinishAuthentication(ctx, a.Assertion)
		if err != nil {
			// Counter regression keeps its identity: it marks a likely
			// cloned authenticator, not a typo.
			if errors.Is(err, errors.ErrCounterRegression) {
				return nil, err
			}
			if errors.Is(err, errors.ErrChallengeNotFound) ||
				errors.Is(err, errors.ErrCredentialNotFound) ||
				errors.Is(err, errors.ErrInvalidAssertion) {
				return nil, errors.ErrInvalidCredentials
			}
			return nil, err
		}
		return s.users.GetUserByID(ctx, userID)
	default:
		return nil, errors.ErrInvalidCredentials
	}
}

func (s *LoginService) passwordFactor(ctx context.Context, a PasswordAttempt) (*domain.User, error) {
	user, err := s.users.GetUserByUsername(ctx, a.Username)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.HasPassword() {
		return nil, errors.ErrInvalidCredentials
	}
	if err := s.hasher.Verify(user.PasswordHash, a.Password); err != nil {
		audit.Log("login", "password", user.ID, "", "", false, errors.ErrInvalidCredentials)
		return nil, errors.ErrInvalidCredentials
	}
	return user, nil
}

// touchLastLogin records the login time. Best effort: a failed write
// never fails the login itself.
func (s *LoginService) touchLastLogin(ctx context.Context, user *domain.User) {
	now := time.Now()
	user.LastLoginAt = &now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("updating last login time failed")
	}
}
