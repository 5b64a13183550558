package services

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKeyID is returned when a token names a signing key the
// signer does not hold.
var ErrInvalidKeyID = errors.New("invalid key id")

// TokenSigner signs and verifies HS256 tokens. Multiple keys can be
// registered under distinct key IDs so secrets can be rotated without
// invalidating tokens signed with the previous key.
type TokenSigner struct {
	mu           sync.RWMutex
	keys         map[string][]byte
	defaultKeyID string
}

// NewTokenSigner creates an empty signer. At least one key must be
// added before Sign or Keyfunc are usable.
func NewTokenSigner() *TokenSigner {
	return &TokenSigner{keys: make(map[string][]byte)}
}

// AddKey registers an HS256 secret under the given key ID. The first
// key added becomes the default signing key.
func (s *TokenSigner) AddKey(keyID string, secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyID] = secret
	if s.defaultKeyID == "" {
		s.defaultKeyID = keyID
	}
}

// Sign produces a compact HS256 token for the given claims. An empty
// keyID selects the default key.
func (s *TokenSigner) Sign(claims jwt.Claims, keyID string) (string, error) {
	s.mu.RLock()
	if keyID == "" {
		keyID = s.defaultKeyID
	}
	secret, ok := s.keys[keyID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidKeyID, keyID)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Keyfunc resolves the verification key for a parsed token header. It
// rejects any signing method other than HMAC and any unknown key ID.
func (s *TokenSigner) Keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, _ := token.Header["kid"].(string)
	if keyID == "" {
		keyID = s.defaultKeyID
	}
	secret, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKeyID, keyID)
	}
	return secret, nil
}
