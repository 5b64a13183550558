package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
)

type loginFixture struct {
	users     *MockUserRepository
	hasher    *MockPasswordHasher
	tokens    *MockSessionIssuer
	sso       *MockSSOIdentifier
	passkeys  *MockPasskeyAuthenticator
	twoFactor *MockSecondFactorGate
	svc       *LoginService
}

func newLoginFixture() *loginFixture {
	f := &loginFixture{
		users:     new(MockUserRepository),
		hasher:    new(MockPasswordHasher),
		tokens:    new(MockSessionIssuer),
		sso:       new(MockSSOIdentifier),
		passkeys:  new(MockPasskeyAuthenticator),
		twoFactor: new(MockSecondFactorGate),
	}
	f.svc = NewLoginService(f.users, f.hasher, f.tokens, f.sso, f.passkeys, f.twoFactor)
	return f
}

func TestPasswordLoginIssuesSession(t *testing.T) {
	f := newLoginFixture()
	user := testUser()
	user.PasswordHash = "$2a$10$hash"

	f.users.On("GetUserByUsername", mock.Anything, "alice").Return(user, nil)
	f.hasher.On("Verify", user.PasswordHash, "s3cret").Return(nil)
	f.twoFactor.On("Enabled", mock.Anything, "user-1").Return(false, nil)
	f.tokens.On("IssueSession", mock.Anything, user).Return(&domain.TokenPair{AccessToken: "at"}, nil)
	f.users.On("UpdateUser", mock.Anything, user).Return(nil)

	result, err := f.svc.Login(context.Background(), PasswordAttempt{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	assert.False(t, result.SecondFactorRequired)
	assert.Equal(t, "user-1", result.UserID)
	require.NotNil(t, result.Session)
	assert.NotNil(t, user.LastLoginAt)
}

func TestPasswordLoginWrongPassword(t *testing.T) {
	f := newLoginFixture()
	user := testUser()
	user.PasswordHash = "$2a$10$hash"

	f.users.On("GetUserByUsername", mock.Anything, "alice").Return(user, nil)
	f.hasher.On("Verify", user.PasswordHash, "wrong").Return(errors.ErrInvalidCredentials)

	_, err := f.svc.Login(context.Background(), PasswordAttempt{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
	f.tokens.AssertNotCalled(t, "IssueSession", mock.Anything, mock.Anything)
}

func TestPasswordLoginUnknownUserLooksIdentical(t *testing.T) {
	f := newLoginFixture()

	f.users.On("GetUserByUsername", mock.Anything, "nobody").Return(nil, errors.ErrUserNotFound)

	_, err := f.svc.Login(context.Background(), PasswordAttempt{Username: "nobody", Password: "x"})
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestPasswordLoginAgainstPasswordlessAccount(t *testing.T) {
	f := newLoginFixture()
	user := testUser() // no password hash

	f.users.On("GetUserByUsername", mock.Anything, "alice").Return(user, nil)

	_, err := f.svc.Login(context.Background(), PasswordAttempt{Username: "alice", Password: "anything"})
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
	f.hasher.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestLoginGatedBehindSecondFactor(t *testing.T) {
	f := newLoginFixture()
	user := testUser()
	user.PasswordHash = "$2a$10$hash"

	f.users.On("GetUserByUsername", mock.Anything, "alice").Return(user, nil)
	f.hasher.On("Verify", mock.Anything, mock.Anything).Return(nil)
	f.twoFactor.On("Enabled", mock.Anything, "user-1").Return(true, nil)
	f.tokens.On("IssuePendingToken", "user-1").Return("pending-token", nil)

	result, err := f.svc.Login(context.Background(), PasswordAttempt{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	assert.True(t, result.SecondFactorRequired)
	assert.Equal(t, "pending-token", result.PendingToken)
	assert.Nil(t, result.Session)
	f.tokens.AssertNotCalled(t, "IssueSession", mock.Anything, mock.Anything)
}

func TestLockedAccountCannotLogin(t *testing.T) {
	f := newLoginFixture()
	user := testUser()
	user.PasswordHash = "$2a$10$hash"
	user.Status = domain.UserStatusLocked

	f.users.On("GetUserByUsername", mock.Anything, "alice").Return(user, nil)
	f.hasher.On("Verify", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Login(context.Background(), PasswordAttempt{Username: "alice", Password: "s3cret"})
	assert.ErrorIs(t, err, errors.ErrAccountLocked)
}

func TestSSOLoginResolvesBoundUser(t *testing.T) {
	f := newLoginFixture()
	user := testUser()

	f.sso.On("ExchangeAndIdentify", mock.Anything, "github", "code-1").Return("user-1", nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(user, nil)
	f.twoFactor.On("Enabled", mock.Anything, "user-1").Return(false, nil)
	f.tokens.On("IssueSession", mock.Anything, user).Return(&domain.TokenPair{}, nil)
	f.users.On("UpdateUser", mock.Anything, user).Return(nil)

	result, err := f.svc.Login(context.Background(), SSOAttempt{Provider: "github", Code: "code-1"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.UserID)
}

func TestSSOLoginUnboundIdentityIsGenericFailure(t *testing.T) {
	f := newLoginFixture()

	f.sso.On("ExchangeAndIdentify", mock.Anything, "github", "code-1").Return("", errors.ErrBindingNotFound)

	_, err := f.svc.Login(context.Background(), SSOAttempt{Provider: "github", Code: "code-1"})
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestPasskeyLoginResolvesUserFromAssertion(t *testing.T) {
	f := newLoginFixture()
	user := testUser()
	assertion := &AssertionResponse{CredentialID: "cred-1", Challenge: "ch", SignCount: 2}

	f.passkeys.On("FinishAuthentication", mock.Anything, assertion).Return("user-1", nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(user, nil)
	f.twoFactor.On("Enabled", mock.Anything, "user-1").Return(false, nil)
	f.tokens.On("IssueSession", mock.Anything, user).Return(&domain.TokenPair{}, nil)
	f.users.On("UpdateUser", mock.Anything, user).Return(nil)

	result, err := f.svc.Login(context.Background(), PasskeyAttempt{Assertion: assertion})
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.UserID)
}

func TestPasskeyCounterRegressionIsNotGeneric(t *testing.T) {
	f := newLoginFixture()
	assertion := &AssertionResponse{CredentialID: "cred-1"}

	f.passkeys.On("FinishAuthentication", mock.Anything, assertion).Return("", errors.ErrCounterRegression)

	_, err := f.svc.Login(context.Background(), PasskeyAttempt{Assertion: assertion})
	assert.ErrorIs(t, err, errors.ErrCounterRegression)
	assert.NotErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestPasskeyConsumedChallengeIsGenericFailure(t *testing.T) {
	f := newLoginFixture()
	assertion := &AssertionResponse{CredentialID: "cred-1"}

	f.passkeys.On("FinishAuthentication", mock.Anything, assertion).Return("", errors.ErrChallengeNotFound)

	_, err := f.svc.Login(context.Background(), PasskeyAttempt{Assertion: assertion})
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
}
