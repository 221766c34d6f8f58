package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	var key Key
	for i := range key {
		key[i] = byte(i)
	}

	ciphertext, err := Encrypt(key, "sk-test-12345")
	require.NoError(t, err)
	require.NotEqual(t, "sk-test-12345", ciphertext)

	plain, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "sk-test-12345", plain)
}

func TestDecrypt_RejectsTamperedCiphertext(t *testing.T) {
	var key Key
	for i := range key {
		key[i] = byte(i)
	}

	ciphertext, err := Encrypt(key, "sk-test-12345")
	require.NoError(t, err)

	tampered := []byte(ciphertext)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = Decrypt(key, string(tampered))
	require.Error(t, err)
}

func TestParseKey_RejectsWrongLength(t *testing.T) {
	_, err := ParseKey("dG9vc2hvcnQ=")
	require.Error(t, err)
}
