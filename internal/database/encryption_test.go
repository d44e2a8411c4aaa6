package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_EncryptDecrypt(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{name: "bot token", plaintext: "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"},
		{name: "empty string", plaintext: ""},
		{name: "unicode text", plaintext: "Hello 世界"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tc.plaintext)
			require.NoError(t, err)
			if tc.plaintext != "" {
				assert.NotEqual(t, tc.plaintext, sealed)
			}

			plain, err := enc.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, plain)
		})
	}
}

func TestEncryptor_NonceVaries(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := newEncryptor("")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)
}

func TestEncryptor_DecryptErrors(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)

	other, err := newEncryptor("another-very-long-secret-used-for-the-mismatch-case")
	require.NoError(t, err)
	sealed, err := other.Encrypt("value")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.Error(t, err)
}
