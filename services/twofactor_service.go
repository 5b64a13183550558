package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/audit"
	"go.craftbench.dev/auth/internal/auth/totp"
	"go.craftbench.dev/auth/internal/crypto"
	"go.craftbench.dev/auth/internal/metrics"
)

// Enrollment is returned from BeginEnrollment: the base32 secret for
// manual entry and an otpauth:// URI for QR rendering.
type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// sessionMinter is the slice of TokenService the two-factor flow needs:
// to validate the pending token from the first factor and to mint the
// session once the second factor passes.
type sessionMinter interface {
	IssueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error)
	ValidatePendingToken(tokenValue string) (string, bool)
}

// TwoFactorService manages TOTP enrollment and completes logins gated
// behind a second factor. Secrets are stored encrypted with the owner's
// per-user key and stay unverified, never gating login, until the user
// proves possession with a first valid code.
type TwoFactorService struct {
	twoFactor domain.TwoFactorRepository
	users     domain.UserRepository
	tokens    sessionMinter
	issuer    string
}

// NewTwoFactorService wires the service. issuer names this service in
// provisioning URIs.
func NewTwoFactorService(
	twoFactor domain.TwoFactorRepository,
	users domain.UserRepository,
	tokens sessionMinter,
	issuer string,
) *TwoFactorService {
	return &TwoFactorService{
		twoFactor: twoFactor,
		users:     users,
		tokens:    tokens,
		issuer:    issuer,
	}
}

// Enabled reports whether the user has a verified second factor.
func (s *TwoFactorService) Enabled(ctx context.Context, userID string) (bool, error) {
	secret, err := s.twoFactor.GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrTwoFactorNotEnabled) {
			return false, nil
		}
		return false, err
	}
	return secret.Verified, nil
}

// BeginEnrollment generates a fresh TOTP secret and persists it
// unverified. Calling it again before confirmation replaces the pending
// secret; calling it with a verified secret in place is rejected.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.twoFactor.GetSecret(ctx, userID)
	if err != nil && !errors.Is(err, errors.ErrTwoFactorNotEnabled) {
		return nil, err
	}
	if existing != nil && existing.Verified {
		return nil, errors.ErrTwoFactorAlreadyEnabled
	}

	key, uri, err := totp.GenerateSecret(s.issuer, user.Username)
	if err != nil {
		return nil, err
	}

	encrypted, err := crypto.Encrypt(user.EncryptionKey, []byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("encrypting TOTP secret: %w", err)
	}

	err = s.twoFactor.UpsertSecret(ctx, &domain.TwoFactorSecret{
		UserID:   userID,
		Method:   domain.TwoFactorMethodTOTP,
		Secret:   encrypted,
		Verified: false,
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("user_id", userID).Msg("two-factor enrollment started")
	return &Enrollment{Secret: key.Secret(), ProvisioningURI: uri}, nil
}

// ConfirmEnrollment verifies the first code against the pending secret,
// flips it to verified, and returns a fresh batch of plaintext recovery
// codes. The codes are shown exactly once; only their hashes are kept.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	secret, err := s.twoFactor.GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrTwoFactorNotEnabled) {
			return nil, errors.ErrTwoFactorNotPending
		}
		return nil, err
	}
	if secret.Verified {
		return nil, errors.ErrTwoFactorAlreadyEnabled
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	step, ok := s.matchCode(user, secret, code)
	if !ok {
		return nil, errors.ErrInvalidTwoFactorCode
	}
	// Burn the confirmation step so the same code cannot immediately
	// satisfy a login.
	advanced, err := s.twoFactor.AdvanceLastUsedStep(ctx, userID, step)
	if err != nil {
		return nil, err
	}
	if !advanced {
		return nil, errors.ErrInvalidTwoFactorCode
	}

	if err := s.twoFactor.MarkVerified(ctx, userID); err != nil {
		return nil, err
	}

	plaintext, hashed, err := totp.GenerateRecoveryCodes(totp.DefaultNumRecoveryCodes, totp.DefaultRecoveryCodeLength)
	if err != nil {
		return nil, err
	}
	if err := s.twoFactor.ReplaceRecoveryCodes(ctx, userID, hashed); err != nil {
		return nil, err
	}

	audit.Log("twofactor", "enroll", userID, "", "TOTP", true, nil)
	return plaintext, nil
}

// CompleteLogin finishes a login that was gated behind a second factor.
// The pending token proves the first factor passed; the TOTP code is
// checked against the verified secret with the usual skew window and is
// single-use per time step.
func (s *TwoFactorService) CompleteLogin(ctx context.Context, pendingToken, code string) (*domain.TokenPair, error) {
	userID, ok := s.tokens.ValidatePendingToken(pendingToken)
	if !ok {
		return nil, errors.ErrInvalidPendingToken
	}

	secret, err := s.twoFactor.GetSecret(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !secret.Verified {
		return nil, errors.ErrTwoFactorNotEnabled
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	step, ok := s.matchCode(user, secret, code)
	if !ok {
		metrics.LoginFailureTotal.Inc()
		return nil, errors.ErrInvalidTwoFactorCode
	}

	advanced, err := s.twoFactor.AdvanceLastUsedStep(ctx, userID, step)
	if err != nil {
		return nil, err
	}
	if !advanced {
		// Correct code, but its step was already spent. Treated the same
		// as a wrong code so a replay learns nothing.
		metrics.LoginFailureTotal.Inc()
		return nil, errors.ErrInvalidTwoFactorCode
	}

	metrics.LoginSuccessTotal.Inc()
	return s.tokens.IssueSession(ctx, user)
}

// CompleteLoginWithRecoveryCode finishes a gated login with a one-time
// recovery code instead of a TOTP code. Exactly one stored code is
// consumed per success; the remaining count is returned so callers can
// warn the user, and zero codes left is a distinct signal that the user
// must re-enroll.
func (s *TwoFactorService) CompleteLoginWithRecoveryCode(ctx context.Context, pendingToken, code string) (*domain.TokenPair, int64, error) {
	userID, ok := s.tokens.ValidatePendingToken(pendingToken)
	if !ok {
		return nil, 0, errors.ErrInvalidPendingToken
	}

	secret, err := s.twoFactor.GetSecret(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if !secret.Verified {
		return nil, 0, errors.ErrTwoFactorNotEnabled
	}

	codes, err := s.twoFactor.ListRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if len(codes) == 0 {
		return nil, 0, errors.ErrRecoveryCodesExhausted
	}

	hashes := make([]string, len(codes))
	for i, rc := range codes {
		hashes[i] = rc.CodeHash
	}
	idx, ok := totp.MatchRecoveryCode(hashes, code)
	if !ok {
		metrics.LoginFailureTotal.Inc()
		return nil, 0, errors.ErrInvalidRecoveryCode
	}

	consumed, err := s.twoFactor.ConsumeRecoveryCode(ctx, codes[idx].ID)
	if err != nil {
		return nil, 0, err
	}
	if !consumed {
		// Lost the race to a concurrent login with the same code.
		metrics.LoginFailureTotal.Inc()
		return nil, 0, errors.ErrInvalidRecoveryCode
	}
	metrics.RecoveryCodesConsumedTotal.Inc()

	remaining, err := s.twoFactor.CountRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if remaining == 0 {
		log.Warn().Str("user_id", userID).Msg("last recovery code consumed")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	audit.Log("twofactor", "recovery_login", userID, "", fmt.Sprintf("%d codes remaining", remaining), true, nil)
	metrics.LoginSuccessTotal.Inc()

	pair, err := s.tokens.IssueSession(ctx, user)
	if err != nil {
		return nil, 0, err
	}
	return pair, remaining, nil
}

// RegenerateRecoveryCodes replaces the user's remaining recovery codes
// with a fresh batch, for when the printed sheet is lost.
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	enabled, err := s.Enabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, errors.ErrTwoFactorNotEnabled
	}

	plaintext, hashed, err := totp.GenerateRecoveryCodes(totp.DefaultNumRecoveryCodes, totp.DefaultRecoveryCodeLength)
	if err != nil {
		return nil, err
	}
	if err := s.twoFactor.ReplaceRecoveryCodes(ctx, userID, hashed); err != nil {
		return nil, err
	}
	audit.Log("twofactor", "regenerate_recovery_codes", userID, "", "", true, nil)
	return plaintext, nil
}

// Delete disables two-factor authentication: the secret and all
// remaining recovery codes are removed. A user with no verified secret
// is 2FA-disabled, so this is idempotent.
func (s *TwoFactorService) Delete(ctx context.Context, userID string) error {
	if err := s.twoFactor.DeleteSecret(ctx, userID); err != nil {
		return err
	}
	if err := s.twoFactor.DeleteRecoveryCodes(ctx, userID); err != nil {
		return err
	}
	audit.Log("twofactor", "disable", userID, "", "", true, nil)
	return nil
}

func (s *TwoFactorService) matchCode(user *domain.User, secret *domain.TwoFactorSecret, code string) (int64, bool) {
	plain, err := crypto.Decrypt(user.EncryptionKey, secret.Secret)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("TOTP secret decryption failed")
		return 0, false
	}
	return totp.MatchCodeStep(string(plain), code, time.Now())
}
