package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewEncryptionKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	plaintext := []byte("JBSWY3DPEHPK3PXP")
	sealed, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := Decrypt(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key, err := NewEncryptionKey()
	require.NoError(t, err)
	other, err := NewEncryptionKey()
	require.NoError(t, err)

	sealed, err := Encrypt(key, []byte("secret"))
	require.NoError(t, err)

	_, err = Decrypt(other, sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	key, err := NewEncryptionKey()
	require.NoError(t, err)

	_, err = Decrypt(key, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key, err := NewEncryptionKey()
	require.NoError(t, err)

	a, err := Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
