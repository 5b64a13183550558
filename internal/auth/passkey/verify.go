// Package passkey implements the cryptographic half of the passkey
// ceremonies: challenge generation and ECDSA assertion verification.
package passkey

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

const challengeSize = 32

// NewChallenge returns a fresh random challenge, base64url encoded.
func NewChallenge() (string, error) {
	b := make([]byte, challengeSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ParsePublicKey decodes a PKIX DER public key and ensures it is an ECDSA
// key. P-256 is what authenticators produce in this scheme.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ECDSA key")
	}
	return ecKey, nil
}

// VerifySignature checks an ASN.1 DER ECDSA signature over the SHA-256
// digest of the challenge string.
func VerifySignature(pub *ecdsa.PublicKey, challenge string, sig []byte) bool {
	digest := sha256.Sum256([]byte(challenge))
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
