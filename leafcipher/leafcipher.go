// Package leafcipher implements ksec's LeafCipher: authenticated encryption
// of a single leaf with an explicit key, IV and AAD, using AES-256 in GCM
// mode.
//
// The IV is 32 bytes, not the customary 12. This is a compatibility
// requirement inherited from the format this engine reads and writes:
// implementations must feed the full 32-byte IV to GCM rather than
// truncating it.
package leafcipher

import (
	cryptoaes "crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// NonceSize is the IV length, in bytes, used by every ksec document.
const NonceSize = 32

// AuthenticationFailedError wraps a GCM tag-verification failure.
type AuthenticationFailedError struct {
	Err error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Err)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// NewIV returns a fresh, cryptographically random 32-byte IV.
func NewIV() ([]byte, error) {
	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}
	return iv, nil
}

func gcmFor(key []byte, ivLen int) (cipher.AEAD, error) {
	block, err := cryptoaes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under key (32 bytes) with the given 32-byte iv and
// aad, returning the ciphertext and its 16-byte authentication tag
// separately.
func Encrypt(key, iv, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	gcm, err := gcmFor(key, len(iv))
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	tagSize := gcm.Overhead()
	return sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:], nil
}

// Decrypt opens ciphertext+tag under key, iv and aad. It fails with
// AuthenticationFailedError on any tag mismatch.
func Decrypt(key, iv, aad, ciphertext, tag []byte) ([]byte, error) {
	gcm, err := gcmFor(key, len(iv))
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, &AuthenticationFailedError{Err: err}
	}
	return plaintext, nil
}
