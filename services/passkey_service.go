package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/audit"
	"go.craftbench.dev/auth/internal/auth/passkey"
	"go.craftbench.dev/auth/internal/crypto"
	"go.craftbench.dev/auth/internal/metrics"
)

// DefaultChallengeTTL bounds how long a ceremony may take between begin
// and finish.
const DefaultChallengeTTL = 5 * time.Minute

// RegistrationChallenge is the server half of a registration ceremony:
// the challenge to sign plus the credential ids the client should
// exclude from authenticator selection.
type RegistrationChallenge struct {
	Challenge            string   `json:"challenge"`
	ExcludeCredentialIDs []string `json:"exclude_credential_ids,omitempty"`
}

// AttestationResponse is the client's answer to a registration
// challenge: a fresh key pair's public half and a signature over the
// challenge proving possession of the private half.
type AttestationResponse struct {
	Challenge    string   `json:"challenge"`
	CredentialID string   `json:"credential_id"`
	PublicKey    []byte   `json:"public_key"`
	Signature    []byte   `json:"signature"`
	SignCount    uint32   `json:"sign_count"`
	AAGUID       string   `json:"aaguid,omitempty"`
	Transports   []string `json:"transports,omitempty"`
	DeviceName   string   `json:"device_name,omitempty"`
}

// AssertionResponse is the client's answer to an authentication
// challenge.
type AssertionResponse struct {
	CredentialID string `json:"credential_id"`
	Challenge    string `json:"challenge"`
	Signature    []byte `json:"signature"`
	SignCount    uint32 `json:"sign_count"`
}

// PasskeyInfo is a credential summary safe to show the owner.
type PasskeyInfo struct {
	CredentialID string     `json:"credential_id"`
	DeviceName   string     `json:"device_name,omitempty"`
	AAGUID       string     `json:"aaguid,omitempty"`
	Transports   []string   `json:"transports,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// PasskeyService runs the two passkey ceremonies. Both follow the same
// shape: a begin step issues a short-lived random challenge, and a
// finish step consumes the challenge exactly once and verifies an ECDSA
// signature over it. Authentication additionally enforces the
// signature-counter anti-replay rule.
type PasskeyService struct {
	passkeys     domain.PasskeyRepository
	users        domain.UserRepository
	ssoBindings  domain.SSOBindingRepository
	challengeTTL time.Duration
}

// NewPasskeyService wires the ceremony engine over the credential store.
func NewPasskeyService(
	passkeys domain.PasskeyRepository,
	users domain.UserRepository,
	ssoBindings domain.SSOBindingRepository,
	challengeTTL time.Duration,
) *PasskeyService {
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}
	return &PasskeyService{
		passkeys:     passkeys,
		users:        users,
		ssoBindings:  ssoBindings,
		challengeTTL: challengeTTL,
	}
}

// BeginRegistration issues a registration challenge bound to the user
// and returns it with the user's existing credential ids so the client
// can exclude already-registered authenticators.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userID string) (*RegistrationChallenge, error) {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	existing, err := s.passkeys.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	excludeIDs := make([]string, 0, len(existing))
	for _, cred := range existing {
		excludeIDs = append(excludeIDs, cred.CredentialID)
	}

	challenge, err := s.issueChallenge(ctx, userID, domain.ChallengePurposeRegistration)
	if err != nil {
		return nil, err
	}

	return &RegistrationChallenge{
		Challenge:            challenge,
		ExcludeCredentialIDs: excludeIDs,
	}, nil
}

// FinishRegistration consumes the outstanding challenge and, if the
// response's signature over it verifies against the presented public
// key, persists the new credential. The challenge is gone after this
// call whether or not verification succeeds.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userID string, resp *AttestationResponse) (*PasskeyInfo, error) {
	ch, err := s.consumeChallenge(ctx, resp.Challenge, domain.ChallengePurposeRegistration)
	if err != nil {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("registration", "failure").Inc()
		return nil, err
	}
	if ch.UserID != userID {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("registration", "failure").Inc()
		return nil, errors.ErrChallengeNotFound
	}

	pub, err := passkey.ParsePublicKey(resp.PublicKey)
	if err != nil {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("registration", "failure").Inc()
		return nil, errors.ErrInvalidAssertion
	}
	if !passkey.VerifySignature(pub, ch.Challenge, resp.Signature) {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("registration", "failure").Inc()
		return nil, errors.ErrInvalidAssertion
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var deviceName []byte
	if resp.DeviceName != "" {
		deviceName, err = crypto.Encrypt(user.EncryptionKey, []byte(resp.DeviceName))
		if err != nil {
			return nil, fmt.Errorf("encrypting device name: %w", err)
		}
	}

	cred := &domain.PasskeyCredential{
		UserID:       userID,
		CredentialID: resp.CredentialID,
		PublicKey:    resp.PublicKey,
		SignCount:    resp.SignCount,
		AAGUID:       resp.AAGUID,
		Transports:   resp.Transports,
		DeviceName:   deviceName,
		CreatedAt:    time.Now(),
	}
	if err := s.passkeys.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}

	metrics.PasskeyCeremoniesTotal.WithLabelValues("registration", "success").Inc()
	audit.Log("passkey", "register", userID, resp.CredentialID, resp.DeviceName, true, nil)

	return &PasskeyInfo{
		CredentialID: cred.CredentialID,
		DeviceName:   resp.DeviceName,
		AAGUID:       cred.AAGUID,
		Transports:   cred.Transports,
		CreatedAt:    cred.CreatedAt,
	}, nil
}

// BeginAuthentication issues a user-agnostic authentication challenge.
// Passkeys are a first factor, so no user is known yet; the credential
// named in the assertion resolves the account.
func (s *PasskeyService) BeginAuthentication(ctx context.Context) (string, error) {
	return s.issueChallenge(ctx, "", domain.ChallengePurposeAuthentication)
}

// FinishAuthentication consumes the challenge, verifies the assertion
// signature against the stored credential, and enforces the signature
// counter rule: the asserted counter must be strictly greater than the
// stored one, except when both are zero (authenticators that never
// increment). It returns the owning user's id.
func (s *PasskeyService) FinishAuthentication(ctx context.Context, resp *AssertionResponse) (string, error) {
	ch, err := s.consumeChallenge(ctx, resp.Challenge, domain.ChallengePurposeAuthentication)
	if err != nil {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("authentication", "failure").Inc()
		return "", err
	}

	cred, err := s.passkeys.GetCredentialByCredentialID(ctx, resp.CredentialID)
	if err != nil {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("authentication", "failure").Inc()
		return "", err
	}

	pub, err := passkey.ParsePublicKey(cred.PublicKey)
	if err != nil {
		return "", fmt.Errorf("stored public key is invalid: %w", err)
	}
	if !passkey.VerifySignature(pub, ch.Challenge, resp.Signature) {
		metrics.PasskeyCeremoniesTotal.WithLabelValues("authentication", "failure").Inc()
		return "", errors.ErrInvalidAssertion
	}

	// U2F-era authenticators may report 0 forever; that is the only case
	// where a non-increasing counter is accepted.
	if !(resp.SignCount == 0 && cred.SignCount == 0) && resp.SignCount <= cred.SignCount {
		metrics.CounterRegressionTotal.Inc()
		metrics.PasskeyCeremoniesTotal.WithLabelValues("authentication", "failure").Inc()
		log.Warn().
			Str("user_id", cred.UserID).
			Str("credential_id", cred.CredentialID).
			Uint32("stored_count", cred.SignCount).
			Uint32("asserted_count", resp.SignCount).
			Msg("passkey signature counter regression, possible cloned authenticator")
		audit.Log("passkey", "authenticate", cred.UserID, cred.CredentialID, "counter regression", false, errors.ErrCounterRegression)
		return "", errors.ErrCounterRegression
	}

	ok, err := s.passkeys.UpdateSignCount(ctx, cred.CredentialID, cred.SignCount, resp.SignCount, time.Now())
	if err != nil {
		return "", fmt.Errorf("advancing signature counter: %w", err)
	}
	if !ok {
		// A concurrent assertion advanced the counter first; accepting
		// this one would admit a replay.
		metrics.CounterRegressionTotal.Inc()
		metrics.PasskeyCeremoniesTotal.WithLabelValues("authentication", "failure").Inc()
		return "", errors.ErrCounterRegression
	}

	metrics.PasskeyCeremoniesTotal.WithLabelValues("authentication", "success").Inc()
	return cred.UserID, nil
}

// ListCredentials returns the user's registered passkeys with their
// device labels decrypted for display.
func (s *PasskeyService) ListCredentials(ctx context.Context, userID string) ([]*PasskeyInfo, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	creds, err := s.passkeys.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	infos := make([]*PasskeyInfo, 0, len(creds))
	for _, cred := range creds {
		info := &PasskeyInfo{
			CredentialID: cred.CredentialID,
			AAGUID:       cred.AAGUID,
			Transports:   cred.Transports,
			CreatedAt:    cred.CreatedAt,
			LastUsedAt:   cred.LastUsedAt,
		}
		if len(cred.DeviceName) > 0 {
			name, decErr := crypto.Decrypt(user.EncryptionKey, cred.DeviceName)
			if decErr != nil {
				log.Warn().Err(decErr).Str("credential_id", cred.CredentialID).Msg("device name decryption failed")
			} else {
				info.DeviceName = string(name)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteCredential removes a passkey. Removing the account's last
// remaining login method is refused: a user with no password and no SSO
// bindings must keep at least one passkey.
func (s *PasskeyService) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() {
		bindings, err := s.ssoBindings.ListByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("listing bindings: %w", err)
		}
		if len(bindings) == 0 {
			creds, err := s.passkeys.ListCredentialsByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("listing credentials: %w", err)
			}
			if len(creds) <= 1 {
				return errors.ErrLastLoginMethod
			}
		}
	}

	if err := s.passkeys.DeleteCredential(ctx, userID, credentialID); err != nil {
		return err
	}
	audit.Log("passkey", "delete", userID, credentialID, "", true, nil)
	return nil
}

func (s *PasskeyService) issueChallenge(ctx context.Context, userID, purpose string) (string, error) {
	challenge, err := passkey.NewChallenge()
	if err != nil {
		return "", err
	}
	now := time.Now()
	err = s.passkeys.SaveChallenge(ctx, &domain.PasskeyChallenge{
		Challenge: challenge,
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.challengeTTL),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("saving challenge: %w", err)
	}
	return challenge, nil
}

// consumeChallenge atomically removes the challenge and checks purpose
// and expiry. The Mongo TTL sweeper lags, so expiry is re-checked here.
func (s *PasskeyService) consumeChallenge(ctx context.Context, challenge, purpose string) (*domain.PasskeyChallenge, error) {
	ch, err := s.passkeys.ConsumeChallenge(ctx, challenge)
	if err != nil {
		return nil, err
	}
	if ch.Purpose != purpose || ch.Expired(time.Now()) {
		return nil, errors.ErrChallengeNotFound
	}
	return ch, nil
}
