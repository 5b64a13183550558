package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/cache"
	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/metrics"
)

const (
	// DefaultAccessTokenTTL bounds how long a revoked lineage can keep
	// producing successful offline validations.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the sliding window a session stays alive
	// without a rotation.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultPendingTokenTTL is how long a user has to complete the
	// second factor after a correct password.
	DefaultPendingTokenTTL = 5 * time.Minute

	pendingTokenPurpose = "2fa_pending"
)

type accessTokenClaims struct {
	LineageID string   `json:"lid"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type pendingTokenClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenService mints, rotates, validates and revokes session tokens.
// Access tokens are HS256 JWTs validated offline (signature and expiry)
// plus a lineage-revocation check; refresh tokens are opaque values
// persisted by hash in the token ledger.
type TokenService struct {
	ledger      domain.TokenRepository
	users       domain.UserRepository
	revocations cache.RevocationStore
	signer      *TokenSigner
	issuer      string

	accessTTL  time.Duration
	refreshTTL time.Duration
	pendingTTL time.Duration
}

// NewTokenService wires a token service over the given ledger and
// revocation cache. Zero TTLs fall back to the package defaults.
func NewTokenService(
	ledger domain.TokenRepository,
	users domain.UserRepository,
	revocations cache.RevocationStore,
	signer *TokenSigner,
	issuer string,
	accessTTL, refreshTTL time.Duration,
) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenService{
		ledger:      ledger,
		users:       users,
		revocations: revocations,
		signer:      signer,
		issuer:      issuer,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		pendingTTL:  DefaultPendingTokenTTL,
	}
}

// AccessTokenTTL reports the configured access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration { return s.accessTTL }

// IssueSession mints a fresh access/refresh pair for a fully
// authenticated user. Both tokens share a newly generated lineage id,
// and the refresh token hash is persisted in the ledger before the pair
// is returned.
func (s *TokenService) IssueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	lineageID := uuid.NewString()

	accessToken, err := s.mintAccessToken(user.ID, lineageID, user.Roles)
	if err != nil {
		return nil, err
	}

	refreshValue, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.ledger.StoreRefreshToken(ctx, &domain.RefreshToken{
		TokenHash:  cache.HashToken(refreshValue),
		UserID:     user.ID,
		LineageID:  lineageID,
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
		LastUsedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	metrics.SessionsIssuedTotal.Inc()
	log.Debug().
		Str("user_id", user.ID).
		Str("lineage_id", lineageID).
		Msg("session issued")

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// ValidateAccessToken checks an access token's signature and expiry
// offline, then verifies the lineage has not been revoked. A cache of
// revoked lineages is consulted first; only a confirmed revocation is
// ever cached, so a revoke takes effect immediately while dead tokens
// skip the ledger read. The boolean result is false for any
// authentication failure; the error is reserved for infrastructure
// faults.
func (s *TokenService) ValidateAccessToken(ctx context.Context, tokenValue string) (*domain.SessionClaims, bool, error) {
	claims := &accessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenValue, claims, s.signer.Keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil || !parsed.Valid {
		return nil, false, nil
	}
	// A session token always names a lineage. Tokens signed by us for
	// any other purpose (the 2FA pending token) carry none and must not
	// pass as sessions.
	if claims.LineageID == "" {
		return nil, false, nil
	}

	if s.revocations != nil {
		revoked, cacheErr := s.revocations.IsRevoked(ctx, claims.LineageID)
		if cacheErr != nil {
			log.Warn().Err(cacheErr).Msg("revocation cache read failed, falling back to ledger")
		} else if revoked {
			return nil, false, nil
		}
	}

	revoked, err := s.ledger.IsLineageRevoked(ctx, claims.LineageID)
	if err != nil {
		return nil, false, fmt.Errorf("checking lineage revocation: %w", err)
	}
	if revoked {
		s.cacheRevocation(ctx, claims.LineageID)
		return nil, false, nil
	}

	return &domain.SessionClaims{
		UserID:    claims.Subject,
		LineageID: claims.LineageID,
		TokenID:   claims.ID,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, true, nil
}

// RotateAccessToken exchanges a live refresh token for a fresh access
// token on the same lineage. The refresh token's expiry is extended,
// and the conditional ledger update serializes rotation against a
// concurrent revocation: whichever lands first wins.
func (s *TokenService) RotateAccessToken(ctx context.Context, refreshValue string) (*domain.TokenPair, bool, error) {
	tokenHash := cache.HashToken(refreshValue)

	row, err := s.ledger.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, errors.ErrTokenExpiredOrRevoked) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading refresh token: %w", err)
	}

	now := time.Now()
	if row.IsRevoked || now.After(row.ExpiresAt) {
		return nil, false, nil
	}

	revoked, err := s.ledger.IsLineageRevoked(ctx, row.LineageID)
	if err != nil {
		return nil, false, fmt.Errorf("checking lineage revocation: %w", err)
	}
	if revoked {
		return nil, false, nil
	}

	user, err := s.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading user for rotation: %w", err)
	}

	ok, err := s.ledger.TouchRefreshToken(ctx, tokenHash, now.Add(s.refreshTTL), now)
	if err != nil {
		return nil, false, fmt.Errorf("touching refresh token: %w", err)
	}
	if !ok {
		// Revoked or expired between the read and the update.
		return nil, false, nil
	}

	accessToken, err := s.mintAccessToken(user.ID, row.LineageID, user.Roles)
	if err != nil {
		return nil, false, err
	}

	metrics.TokensRotatedTotal.Inc()
	log.Debug().
		Str("user_id", user.ID).
		Str("lineage_id", row.LineageID).
		Msg("access token rotated")

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, true, nil
}

// RevokeLineage kills the lineage named by an access token. The token's
// signature must verify but it may already be expired, so a user can
// always log out. Returns false without error when the token is
// malformed or forged.
func (s *TokenService) RevokeLineage(ctx context.Context, accessToken string) (bool, error) {
	claims := &accessTokenClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, s.signer.Keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || claims.LineageID == "" {
		return false, nil
	}

	if err := s.ledger.RevokeLineage(ctx, claims.LineageID, claims.Subject); err != nil {
		return false, fmt.Errorf("revoking lineage: %w", err)
	}
	s.cacheRevocation(ctx, claims.LineageID)

	metrics.LineagesRevokedTotal.Inc()
	log.Info().
		Str("user_id", claims.Subject).
		Str("lineage_id", claims.LineageID).
		Msg("lineage revoked")
	return true, nil
}

// RevokeAllForUser revokes every live lineage belonging to a user, for
// example after a password change.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := s.ledger.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoking user sessions: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("all sessions revoked")
	return nil
}

// IssuePendingToken mints a short-lived token proving the password
// check passed but a second factor is still outstanding. The token is
// stateless; its purpose claim keeps it from ever passing as a session.
func (s *TokenService) IssuePendingToken(userID string) (string, error) {
	now := time.Now()
	claims := &pendingTokenClaims{
		Purpose: pendingTokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.pendingTTL)),
		},
	}
	return s.signer.Sign(claims, "")
}

// ValidatePendingToken verifies a pending two-factor token and returns
// the user it was issued for. An access token presented here fails the
// purpose check.
func (s *TokenService) ValidatePendingToken(tokenValue string) (string, bool) {
	claims := &pendingTokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenValue, claims, s.signer.Keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil || !parsed.Valid || claims.Purpose != pendingTokenPurpose {
		return "", false
	}
	return claims.Subject, true
}

func (s *TokenService) mintAccessToken(userID, lineageID string, roles []string) (string, error) {
	now := time.Now()
	claims := &accessTokenClaims{
		LineageID: lineageID,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return s.signer.Sign(claims, "")
}

// cacheRevocation records a confirmed revocation in the deny cache. The
// entry only needs to outlive the longest-lived access token.
func (s *TokenService) cacheRevocation(ctx context.Context, lineageID string) {
	if s.revocations == nil {
		return
	}
	if err := s.revocations.MarkRevoked(ctx, lineageID, s.accessTTL); err != nil {
		log.Warn().Err(err).Str("lineage_id", lineageID).Msg("caching revocation failed")
	}
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
