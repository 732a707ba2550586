package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *SecretKey {
	t.Helper()
	t.Setenv("SWITCHBOARD_SECRET_KEY", "unit-test-master-key")
	sk, err := NewSecretKey()
	require.NoError(t, err)
	return sk
}

func TestSecretKeyRoundTrip(t *testing.T) {
	sk := testKey(t)

	for _, plaintext := range []string{
		"sk-abc123def456xyz",
		"sk-proj-very-long-api-key-that-might-be-used-by-some-providers-1234567890",
		"sk-+/=!@#$%^&*()",
	} {
		encrypted, err := sk.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encrypted, "enc:"))
		assert.NotEqual(t, plaintext, encrypted)

		decrypted, err := sk.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestSecretKeyEmptyStaysEmpty(t *testing.T) {
	sk := testKey(t)

	encrypted, err := sk.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, encrypted)
}

func TestSecretKeyNoncesDiffer(t *testing.T) {
	sk := testKey(t)

	a, err := sk.Encrypt("same-secret")
	require.NoError(t, err)
	b, err := sk.Encrypt("same-secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptPassesThroughPlaintext(t *testing.T) {
	sk := testKey(t)

	result, err := sk.Decrypt("plain-text-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-text-value", result)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	sk := testKey(t)

	_, err := sk.Decrypt("enc:%%%not-base64%%%")
	assert.Error(t, err)

	_, err = sk.Decrypt("enc:AAAA")
	assert.Error(t, err)
}

func TestEnvAndFileKeysDiffer(t *testing.T) {
	sk := testKey(t)
	encrypted, err := sk.Encrypt("secret")
	require.NoError(t, err)

	t.Setenv("SWITCHBOARD_SECRET_KEY", "another-master-key")
	other, err := NewSecretKey()
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"ab", "****"},
		{"abcd", "****"},
		{"sk-abc123def", "****3def"},
		{"sk-proj-very-long-key-12345", "****2345"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskSecret(tt.input), "input %q", tt.input)
	}
}
