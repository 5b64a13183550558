package totp

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := ptotp.GenerateCodeCustom(secret, at, ptotp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestGenerateSecret(t *testing.T) {
	key, uri, err := GenerateSecret("auth-test", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, key.Secret())
	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, "auth-test")
}

func TestMatchCodeStepCurrentStep(t *testing.T) {
	key, _, err := GenerateSecret("auth-test", "alice")
	require.NoError(t, err)

	now := time.Now()
	step, ok := MatchCodeStep(key.Secret(), codeAt(t, key.Secret(), now), now)
	require.True(t, ok)
	assert.Equal(t, now.Unix()/Period, step)
}

func TestMatchCodeStepToleratesSkew(t *testing.T) {
	key, _, err := GenerateSecret("auth-test", "alice")
	require.NoError(t, err)

	now := time.Now()
	// A code from the previous step still verifies, and reports the step
	// it was generated for.
	prev := now.Add(-Period * time.Second)
	step, ok := MatchCodeStep(key.Secret(), codeAt(t, key.Secret(), prev), now)
	require.True(t, ok)
	assert.Equal(t, prev.Unix()/Period, step)
}

func TestMatchCodeStepRejectsOutsideWindow(t *testing.T) {
	key, _, err := GenerateSecret("auth-test", "alice")
	require.NoError(t, err)

	now := time.Now()
	stale := now.Add(-3 * Period * time.Second)
	_, ok := MatchCodeStep(key.Secret(), codeAt(t, key.Secret(), stale), now)
	assert.False(t, ok)
}

func TestMatchCodeStepRejectsWrongCode(t *testing.T) {
	key, _, err := GenerateSecret("auth-test", "alice")
	require.NoError(t, err)

	_, ok := MatchCodeStep(key.Secret(), "000000", time.Now())
	assert.False(t, ok)
}

func TestGenerateRecoveryCodes(t *testing.T) {
	plain, hashed, err := GenerateRecoveryCodes(5, 10)
	require.NoError(t, err)
	require.Len(t, plain, 5)
	require.Len(t, hashed, 5)

	seen := make(map[string]bool)
	for i, code := range plain {
		assert.Len(t, code, 10)
		assert.False(t, seen[code], "codes must be unique")
		seen[code] = true
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashed[i]), []byte(code)))
	}
}

func TestGenerateRecoveryCodesUsesWholeAlphabet(t *testing.T) {
	const charset = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// Enough samples that every character of the alphabet should occur;
	// a sampler that skews or truncates the alphabet fails this.
	counts := make(map[rune]int, len(charset))
	for i := 0; i < 8; i++ {
		plain, _, err := GenerateRecoveryCodes(4, 64)
		require.NoError(t, err)
		for _, code := range plain {
			require.Len(t, code, 64)
			for _, r := range code {
				assert.Contains(t, charset, string(r))
				counts[r]++
			}
		}
	}
	for _, r := range charset {
		assert.Positive(t, counts[r], "character %q never generated", r)
	}
}

func TestMatchRecoveryCode(t *testing.T) {
	plain, hashed, err := GenerateRecoveryCodes(3, 10)
	require.NoError(t, err)

	idx, ok := MatchRecoveryCode(hashed, plain[1])
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = MatchRecoveryCode(hashed, "not-a-code")
	assert.False(t, ok)
}
