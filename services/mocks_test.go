package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"go.craftbench.dev/auth/domain"
)

// --- Mock repositories shared by the service tests ---

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) DeleteUser(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) StoreRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *MockTokenRepository) TouchRefreshToken(ctx context.Context, tokenHash string, expiresAt, now time.Time) (bool, error) {
	args := m.Called(ctx, tokenHash, expiresAt, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenRepository) RevokeLineage(ctx context.Context, lineageID, userID string) error {
	args := m.Called(ctx, lineageID, userID)
	return args.Error(0)
}

func (m *MockTokenRepository) IsLineageRevoked(ctx context.Context, lineageID string) (bool, error) {
	args := m.Called(ctx, lineageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockPasskeyRepository struct {
	mock.Mock
}

func (m *MockPasskeyRepository) CreateCredential(ctx context.Context, cred *domain.PasskeyCredential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

func (m *MockPasskeyRepository) GetCredentialByCredentialID(ctx context.Context, credentialID string) (*domain.PasskeyCredential, error) {
	args := m.Called(ctx, credentialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PasskeyCredential), args.Error(1)
}

func (m *MockPasskeyRepository) ListCredentialsByUser(ctx context.Context, userID string) ([]*domain.PasskeyCredential, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PasskeyCredential), args.Error(1)
}

func (m *MockPasskeyRepository) UpdateSignCount(ctx context.Context, credentialID string, fromCount, toCount uint32, usedAt time.Time) (bool, error) {
	args := m.Called(ctx, credentialID, fromCount, toCount, usedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasskeyRepository) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	args := m.Called(ctx, userID, credentialID)
	return args.Error(0)
}

func (m *MockPasskeyRepository) SaveChallenge(ctx context.Context, challenge *domain.PasskeyChallenge) error {
	args := m.Called(ctx, challenge)
	return args.Error(0)
}

func (m *MockPasskeyRepository) ConsumeChallenge(ctx context.Context, challenge string) (*domain.PasskeyChallenge, error) {
	args := m.Called(ctx, challenge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PasskeyChallenge), args.Error(1)
}

type MockTwoFactorRepository struct {
	mock.Mock
}

func (m *MockTwoFactorRepository) UpsertSecret(ctx context.Context, secret *domain.TwoFactorSecret) error {
	args := m.Called(ctx, secret)
	return args.Error(0)
}

func (m *MockTwoFactorRepository) GetSecret(ctx context.Context, userID string) (*domain.TwoFactorSecret, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TwoFactorSecret), args.Error(1)
}

func (m *MockTwoFactorRepository) MarkVerified(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTwoFactorRepository) AdvanceLastUsedStep(ctx context.Context, userID string, step int64) (bool, error) {
	args := m.Called(ctx, userID, step)
	return args.Bool(0), args.Error(1)
}

func (m *MockTwoFactorRepository) DeleteSecret(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error {
	args := m.Called(ctx, userID, codeHashes)
	return args.Error(0)
}

func (m *MockTwoFactorRepository) ListRecoveryCodes(ctx context.Context, userID string) ([]*domain.RecoveryCode, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RecoveryCode), args.Error(1)
}

func (m *MockTwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockTwoFactorRepository) CountRecoveryCodes(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTwoFactorRepository) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockSSOBindingRepository struct {
	mock.Mock
}

func (m *MockSSOBindingRepository) Create(ctx context.Context, binding *domain.SSOBinding) error {
	args := m.Called(ctx, binding)
	return args.Error(0)
}

func (m *MockSSOBindingRepository) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.SSOBinding, error) {
	args := m.Called(ctx, provider, providerUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SSOBinding), args.Error(1)
}

func (m *MockSSOBindingRepository) GetByUserAndProvider(ctx context.Context, userID, provider string) (*domain.SSOBinding, error) {
	args := m.Called(ctx, userID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SSOBinding), args.Error(1)
}

func (m *MockSSOBindingRepository) ListByUser(ctx context.Context, userID string) ([]*domain.SSOBinding, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SSOBinding), args.Error(1)
}

func (m *MockSSOBindingRepository) Delete(ctx context.Context, userID, provider string) error {
	args := m.Called(ctx, userID, provider)
	return args.Error(0)
}

// --- Mocks for the narrow collaborator interfaces ---

type MockPasswordHasher struct {
	mock.Mock
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(hash, password string) error {
	args := m.Called(hash, password)
	return args.Error(0)
}

type MockSessionIssuer struct {
	mock.Mock
}

func (m *MockSessionIssuer) IssueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenPair), args.Error(1)
}

func (m *MockSessionIssuer) IssuePendingToken(userID string) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

func (m *MockSessionIssuer) ValidatePendingToken(tokenValue string) (string, bool) {
	args := m.Called(tokenValue)
	return args.String(0), args.Bool(1)
}

func (m *MockSessionIssuer) RevokeAllForUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockSSOIdentifier struct {
	mock.Mock
}

func (m *MockSSOIdentifier) ExchangeAndIdentify(ctx context.Context, provider, code string) (string, error) {
	args := m.Called(ctx, provider, code)
	return args.String(0), args.Error(1)
}

type MockPasskeyAuthenticator struct {
	mock.Mock
}

func (m *MockPasskeyAuthenticator) FinishAuthentication(ctx context.Context, resp *AssertionResponse) (string, error) {
	args := m.Called(ctx, resp)
	return args.String(0), args.Error(1)
}

type MockSecondFactorGate struct {
	mock.Mock
}

func (m *MockSecondFactorGate) Enabled(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}
