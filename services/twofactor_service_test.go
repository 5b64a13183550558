package services

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.craftbench.dev/auth/domain"
	"go.craftbench.dev/auth/errors"
	"go.craftbench.dev/auth/internal/auth/totp"
	"go.craftbench.dev/auth/internal/crypto"
)

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := ptotp.GenerateCodeCustom(secret, at, ptotp.ValidateOpts{
		Period:    totp.Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

type twoFactorFixture struct {
	repo   *MockTwoFactorRepository
	users  *MockUserRepository
	tokens *MockSessionIssuer
	svc    *TwoFactorService
	user   *domain.User
}

func newTwoFactorFixture(t *testing.T) *twoFactorFixture {
	t.Helper()
	key, err := crypto.NewEncryptionKey()
	require.NoError(t, err)

	user := testUser()
	user.EncryptionKey = key

	f := &twoFactorFixture{
		repo:   new(MockTwoFactorRepository),
		users:  new(MockUserRepository),
		tokens: new(MockSessionIssuer),
		user:   user,
	}
	f.svc = NewTwoFactorService(f.repo, f.users, f.tokens, "auth-test")
	return f
}

// encryptedSecret builds the stored form of a TOTP secret for the
// fixture user.
func (f *twoFactorFixture) encryptedSecret(t *testing.T, plain string, verified bool) *domain.TwoFactorSecret {
	t.Helper()
	sealed, err := crypto.Encrypt(f.user.EncryptionKey, []byte(plain))
	require.NoError(t, err)
	return &domain.TwoFactorSecret{
		UserID:   f.user.ID,
		Method:   domain.TwoFactorMethodTOTP,
		Secret:   sealed,
		Verified: verified,
	}
}

func TestBeginEnrollmentStoresUnverifiedSecret(t *testing.T) {
	f := newTwoFactorFixture(t)

	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(nil, errors.ErrTwoFactorNotEnabled)

	var stored *domain.TwoFactorSecret
	f.repo.On("UpsertSecret", mock.Anything, mock.AnythingOfType("*domain.TwoFactorSecret")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*domain.TwoFactorSecret) }).
		Return(nil)

	enrollment, err := f.svc.BeginEnrollment(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")

	require.NotNil(t, stored)
	assert.False(t, stored.Verified)

	// The stored secret is sealed with the user's key, not plaintext.
	plain, err := crypto.Decrypt(f.user.EncryptionKey, stored.Secret)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, string(plain))
}

func TestBeginEnrollmentRejectsWhenAlreadyEnabled(t *testing.T) {
	f := newTwoFactorFixture(t)

	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, "SECRET", true), nil)

	_, err := f.svc.BeginEnrollment(context.Background(), "user-1")
	assert.ErrorIs(t, err, errors.ErrTwoFactorAlreadyEnabled)
}

func TestConfirmEnrollmentVerifiesAndIssuesRecoveryCodes(t *testing.T) {
	f := newTwoFactorFixture(t)
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, secret, false), nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	f.repo.On("AdvanceLastUsedStep", mock.Anything, "user-1", mock.AnythingOfType("int64")).Return(true, nil)
	f.repo.On("MarkVerified", mock.Anything, "user-1").Return(nil)

	var storedHashes []string
	f.repo.On("ReplaceRecoveryCodes", mock.Anything, "user-1", mock.AnythingOfType("[]string")).
		Run(func(args mock.Arguments) { storedHashes = args.Get(2).([]string) }).
		Return(nil)

	codes, err := f.svc.ConfirmEnrollment(context.Background(), "user-1", totpCode(t, secret, time.Now()))
	require.NoError(t, err)
	assert.Len(t, codes, totp.DefaultNumRecoveryCodes)
	assert.Len(t, storedHashes, totp.DefaultNumRecoveryCodes)
	assert.NotEqual(t, codes[0], storedHashes[0], "recovery codes must be stored hashed")
}

func TestConfirmEnrollmentRejectsWrongCode(t *testing.T) {
	f := newTwoFactorFixture(t)
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, secret, false), nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)

	_, err := f.svc.ConfirmEnrollment(context.Background(), "user-1", "000000")
	assert.ErrorIs(t, err, errors.ErrInvalidTwoFactorCode)
	f.repo.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
}

func TestConfirmEnrollmentRejectsSpentStep(t *testing.T) {
	f := newTwoFactorFixture(t)
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, secret, false), nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	f.repo.On("AdvanceLastUsedStep", mock.Anything, "user-1", mock.AnythingOfType("int64")).Return(false, nil)

	_, err := f.svc.ConfirmEnrollment(context.Background(), "user-1", totpCode(t, secret, time.Now()))
	assert.ErrorIs(t, err, errors.ErrInvalidTwoFactorCode)
	f.repo.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "ReplaceRecoveryCodes", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompleteLoginWithValidCode(t *testing.T) {
	f := newTwoFactorFixture(t)
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	f.tokens.On("ValidatePendingToken", "pending").Return("user-1", true)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, secret, true), nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	f.repo.On("AdvanceLastUsedStep", mock.Anything, "user-1", mock.AnythingOfType("int64")).Return(true, nil)
	f.tokens.On("IssueSession", mock.Anything, f.user).Return(&domain.TokenPair{AccessToken: "at"}, nil)

	pair, err := f.svc.CompleteLogin(context.Background(), "pending", totpCode(t, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "at", pair.AccessToken)
}

func TestCompleteLoginRejectsReplayedStep(t *testing.T) {
	f := newTwoFactorFixture(t)
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	f.tokens.On("ValidatePendingToken", "pending").Return("user-1", true)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, secret, true), nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	// The step was already spent by a previous login.
	f.repo.On("AdvanceLastUsedStep", mock.Anything, "user-1", mock.AnythingOfType("int64")).Return(false, nil)

	_, err := f.svc.CompleteLogin(context.Background(), "pending", totpCode(t, secret, time.Now()))
	assert.ErrorIs(t, err, errors.ErrInvalidTwoFactorCode)
	f.tokens.AssertNotCalled(t, "IssueSession", mock.Anything, mock.Anything)
}

func TestCompleteLoginRejectsUnverifiedSecret(t *testing.T) {
	f := newTwoFactorFixture(t)
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	f.tokens.On("ValidatePendingToken", "pending").Return("user-1", true)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, secret, false), nil)

	_, err := f.svc.CompleteLogin(context.Background(), "pending", totpCode(t, secret, time.Now()))
	assert.ErrorIs(t, err, errors.ErrTwoFactorNotEnabled)
}

func TestCompleteLoginRejectsBadPendingToken(t *testing.T) {
	f := newTwoFactorFixture(t)

	f.tokens.On("ValidatePendingToken", "garbage").Return("", false)

	_, err := f.svc.CompleteLogin(context.Background(), "garbage", "123456")
	assert.ErrorIs(t, err, errors.ErrInvalidPendingToken)
}

func TestRecoveryCodeLoginConsumesExactlyOne(t *testing.T) {
	f := newTwoFactorFixture(t)

	_, hashed, err := totp.GenerateRecoveryCodes(2, 10)
	require.NoError(t, err)
	plain, hashedMatch, err := totp.GenerateRecoveryCodes(1, 10)
	require.NoError(t, err)

	codes := []*domain.RecoveryCode{
		{ID: "rc-1", UserID: "user-1", CodeHash: hashed[0]},
		{ID: "rc-2", UserID: "user-1", CodeHash: hashedMatch[0]},
		{ID: "rc-3", UserID: "user-1", CodeHash: hashed[1]},
	}

	f.tokens.On("ValidatePendingToken", "pending").Return("user-1", true)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, "SECRET", true), nil)
	f.repo.On("ListRecoveryCodes", mock.Anything, "user-1").Return(codes, nil)
	f.repo.On("ConsumeRecoveryCode", mock.Anything, "rc-2").Return(true, nil)
	f.repo.On("CountRecoveryCodes", mock.Anything, "user-1").Return(int64(2), nil)
	f.users.On("GetUserByID", mock.Anything, "user-1").Return(f.user, nil)
	f.tokens.On("IssueSession", mock.Anything, f.user).Return(&domain.TokenPair{}, nil)

	_, remaining, err := f.svc.CompleteLoginWithRecoveryCode(context.Background(), "pending", plain[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
	f.repo.AssertCalled(t, "ConsumeRecoveryCode", mock.Anything, "rc-2")
}

func TestRecoveryCodeLoginLosesConsumptionRace(t *testing.T) {
	f := newTwoFactorFixture(t)

	plain, hashed, err := totp.GenerateRecoveryCodes(1, 10)
	require.NoError(t, err)
	codes := []*domain.RecoveryCode{{ID: "rc-1", UserID: "user-1", CodeHash: hashed[0]}}

	f.tokens.On("ValidatePendingToken", "pending").Return("user-1", true)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, "SECRET", true), nil)
	f.repo.On("ListRecoveryCodes", mock.Anything, "user-1").Return(codes, nil)
	// A concurrent login already deleted the row.
	f.repo.On("ConsumeRecoveryCode", mock.Anything, "rc-1").Return(false, nil)

	_, _, err = f.svc.CompleteLoginWithRecoveryCode(context.Background(), "pending", plain[0])
	assert.ErrorIs(t, err, errors.ErrInvalidRecoveryCode)
	f.tokens.AssertNotCalled(t, "IssueSession", mock.Anything, mock.Anything)
}

func TestRecoveryCodeLoginReportsExhaustion(t *testing.T) {
	f := newTwoFactorFixture(t)

	f.tokens.On("ValidatePendingToken", "pending").Return("user-1", true)
	f.repo.On("GetSecret", mock.Anything, "user-1").Return(f.encryptedSecret(t, "SECRET", true), nil)
	f.repo.On("ListRecoveryCodes", mock.Anything, "user-1").Return([]*domain.RecoveryCode{}, nil)

	_, _, err := f.svc.CompleteLoginWithRecoveryCode(context.Background(), "pending", "whatever")
	assert.ErrorIs(t, err, errors.ErrRecoveryCodesExhausted)
}

func TestDeleteRemovesSecretAndRecoveryCodes(t *testing.T) {
	f := newTwoFactorFixture(t)

	f.repo.On("DeleteSecret", mock.Anything, "user-1").Return(nil)
	f.repo.On("DeleteRecoveryCodes", mock.Anything, "user-1").Return(nil)

	require.NoError(t, f.svc.Delete(context.Background(), "user-1"))
	f.repo.AssertExpectations(t)
}
