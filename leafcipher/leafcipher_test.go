package leafcipher

import (
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte(strings.Repeat("k", 32))
}

func TestNewIVLength(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)
	assert.Len(t, iv, NonceSize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	iv, err := NewIV()
	require.NoError(t, err)
	aad := []byte("path:to:leaf:")
	plaintext := []byte("super secret value")

	ct, tag, err := Encrypt(key, iv, aad, plaintext)
	require.NoError(t, err)

	out, err := Decrypt(key, iv, aad, ct, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptWrongAADFails(t *testing.T) {
	key := testKey()
	iv, err := NewIV()
	require.NoError(t, err)
	ct, tag, err := Encrypt(key, iv, []byte("aad-one"), []byte("value"))
	require.NoError(t, err)

	_, err = Decrypt(key, iv, []byte("aad-two"), ct, tag)
	var authErr *AuthenticationFailedError
	assert.ErrorAs(t, err, &authErr)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)
	ct, tag, err := Encrypt(testKey(), iv, []byte("aad"), []byte("value"))
	require.NoError(t, err)

	otherKey := []byte(strings.Repeat("x", 32))
	_, err = Decrypt(otherKey, iv, []byte("aad"), ct, tag)
	var authErr *AuthenticationFailedError
	assert.ErrorAs(t, err, &authErr)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := testKey()
	iv, err := NewIV()
	require.NoError(t, err)
	ct, tag, err := Encrypt(key, iv, []byte("aad"), []byte("value"))
	require.NoError(t, err)

	ct[0] ^= 0xff
	_, err = Decrypt(key, iv, []byte("aad"), ct, tag)
	assert.Error(t, err)
}

func TestRoundTripQuickCheck(t *testing.T) {
	key := testKey()
	f := func(plaintext []byte, aad string) bool {
		iv, err := NewIV()
		if err != nil {
			return false
		}
		ct, tag, err := Encrypt(key, iv, []byte(aad), plaintext)
		if err != nil {
			return false
		}
		out, err := Decrypt(key, iv, []byte(aad), ct, tag)
		if err != nil {
			return false
		}
		return string(out) == string(plaintext)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
