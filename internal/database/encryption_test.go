package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_Disabled(t *testing.T) {
	e, err := newEncryptor("")
	require.NoError(t, err)

	out, err := e.Encrypt("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = e.Decrypt(encryptedPrefix + "AAAA")
	assert.Error(t, err)
}

func TestEncryptor_RoundTripUsesRandomNonce(t *testing.T) {
	e, err := newEncryptor(testSecret)
	require.NoError(t, err)

	a, err := e.Encrypt(`{"ticker":"$FOO"}`)
	require.NoError(t, err)
	b, err := e.Encrypt(`{"ticker":"$FOO"}`)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	plain, err := e.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, `{"ticker":"$FOO"}`, plain)
}

func TestEncryptor_WrongSecret(t *testing.T) {
	e1, err := newEncryptor(testSecret)
	require.NoError(t, err)
	e2, err := newEncryptor("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	sealed, err := e1.Encrypt("secret")
	require.NoError(t, err)
	_, err = e2.Decrypt(sealed)
	assert.Error(t, err)
}

func TestEncryptor_Malformed(t *testing.T) {
	e, err := newEncryptor(testSecret)
	require.NoError(t, err)

	_, err = e.Decrypt(encryptedPrefix + "!!!")
	assert.Contains(t, err.Error(), "base64")

	_, err = e.Decrypt(encryptedPrefix + "AAAA")
	assert.Contains(t, err.Error(), "too short")
}
