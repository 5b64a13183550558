// Package errors defines the protocol-level outcomes of the credential
// service. These sentinels are expected results of the authentication
// protocol (wrong credentials, consumed challenges, replayed codes) and
// are kept distinct from infrastructure faults, which are returned as
// wrapped errors from the stores.
package errors

import "errors"

var (
	// ErrInvalidCredentials is the uniform first-factor rejection. It
	// deliberately carries no detail about which field or factor failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked rejects login for an administratively locked or
	// not-yet-activated account.
	ErrAccountLocked = errors.New("account is locked")

	// ErrTokenExpiredOrRevoked covers access tokens whose lineage was
	// revoked as well as plain expiry.
	ErrTokenExpiredOrRevoked = errors.New("token is expired or revoked")

	// ErrInvalidPendingToken rejects a second-factor completion whose
	// pending token is missing, expired, or not a pending token at all.
	ErrInvalidPendingToken = errors.New("invalid or expired pending token")

	// ErrInvalidTwoFactorCode rejects a wrong, reused, or out-of-window
	// TOTP code. Replays are folded in on purpose.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")

	// ErrInvalidRecoveryCode rejects a recovery code that matches no
	// stored hash or lost the consumption race.
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")

	// ErrRecoveryCodesExhausted signals that no recovery codes remain.
	// Unlike login failures this is specific: the user must re-enroll.
	ErrRecoveryCodesExhausted = errors.New("all recovery codes have been used")

	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrTwoFactorNotPending     = errors.New("no pending two-factor enrollment")

	// ErrChallengeNotFound rejects a passkey ceremony response whose
	// challenge is unknown, expired, or already consumed.
	ErrChallengeNotFound = errors.New("challenge not found or expired")

	// ErrInvalidAssertion rejects a passkey response whose signature does
	// not verify against the stored or presented public key.
	ErrInvalidAssertion = errors.New("assertion verification failed")

	// ErrCounterRegression rejects an assertion replaying a previously
	// accepted signature counter. This indicates a likely cloned
	// authenticator and should surface as a security warning, not a
	// generic login failure.
	ErrCounterRegression = errors.New("authenticator signature counter regression")

	ErrCredentialExists   = errors.New("credential already registered")
	ErrCredentialNotFound = errors.New("credential not found")

	ErrBindingExists   = errors.New("identity is already bound")
	ErrBindingNotFound = errors.New("binding not found")

	// ErrLastLoginMethod blocks removal of an account's only remaining
	// login method, which would lock the account out permanently.
	ErrLastLoginMethod = errors.New("cannot remove the last login method")

	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username is already taken")
)

// Is reports whether target is found in err's chain. Re-exported so
// callers of this package do not need to import both error packages.
func Is(err, target error) bool { return errors.Is(err, target) }
