// Package totp wraps TOTP generation and validation plus the recovery
// code scheme that backs it up.
package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30
	// Skew is the number of adjacent time steps accepted on either side
	// of the current one, to tolerate clock drift.
	Skew = 1

	// DefaultRecoveryCodeLength is the length of generated recovery codes.
	DefaultRecoveryCodeLength = 10
	// DefaultNumRecoveryCodes is the size of a recovery code batch.
	DefaultNumRecoveryCodes = 10
)

// GenerateSecret generates a new TOTP key for the account. It returns the
// key and the otpauth:// URI for QR code rendering.
func GenerateSecret(issuer, accountName string) (*otp.Key, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      Period,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, key.URL(), nil
}

// MatchCodeStep validates a code against the secret within ±Skew steps of
// time at. On success it returns the time step the code was generated
// for, which the caller must persist as a high-water mark so the same
// step cannot be accepted twice.
func MatchCodeStep(secret, code string, at time.Time) (int64, bool) {
	step := at.Unix() / Period
	for delta := int64(-Skew); delta <= Skew; delta++ {
		candidate := step + delta
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(candidate*Period, 0), totp.ValidateOpts{
			Period:    Period,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return candidate, true
		}
	}
	return 0, false
}

// GenerateRecoveryCodes generates a batch of unique recovery codes.
// It returns the plaintext codes (shown to the user exactly once) and
// their bcrypt hashes for storage.
func GenerateRecoveryCodes(count, length int) (plaintext []string, hashed []string, err error) {
	if count <= 0 {
		count = DefaultNumRecoveryCodes
	}
	if length <= 0 {
		length = DefaultRecoveryCodeLength
	}

	// Excludes easily confused characters (I, l, 1, O, 0).
	const charset = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// Largest multiple of len(charset) that fits in a byte. Bytes at or
	// above it are discarded so every character is equally likely.
	const limit = 256 - 256%len(charset)

	plaintext = make([]string, count)
	hashed = make([]string, count)
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		for {
			code := make([]byte, 0, length)
			for len(code) < length {
				b := make([]byte, length-len(code))
				if _, randErr := rand.Read(b); randErr != nil {
					return nil, nil, fmt.Errorf("failed to read random bytes for recovery code: %w", randErr)
				}
				for _, v := range b {
					if int(v) >= limit {
						continue
					}
					code = append(code, charset[int(v)%len(charset)])
				}
			}
			if !seen[string(code)] {
				plaintext[i] = string(code)
				seen[string(code)] = true
				break
			}
		}

		h, hashErr := bcrypt.GenerateFromPassword([]byte(plaintext[i]), bcrypt.DefaultCost)
		if hashErr != nil {
			return nil, nil, fmt.Errorf("failed to hash recovery code: %w", hashErr)
		}
		hashed[i] = string(h)
	}
	return plaintext, hashed, nil
}

// MatchRecoveryCode checks a plaintext code against a list of stored
// bcrypt hashes and returns the index of the match. Consuming the matched
// code is the caller's responsibility.
func MatchRecoveryCode(hashes []string, code string) (int, bool) {
	for i, h := range hashes {
		err := bcrypt.CompareHashAndPassword([]byte(h), []byte(code))
		if err == nil {
			return i, true
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			// Corrupt hash rows should not abort the scan.
			continue
		}
	}
	return -1, false
}
