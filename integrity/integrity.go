// Package integrity implements ksec's IntegrityMAC: a SHA-512 accumulator
// over cleartext leaf bytes in traversal order, sealed with the document's
// data key so tampering with any leaf, or with the digest itself, is
// detectable on decrypt.
package integrity

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/ksecio/ksec/envelope"
	"github.com/ksecio/ksec/errs"
	"github.com/ksecio/ksec/leafcipher"
)

// Accumulator absorbs cleartext leaf bytes in traversal order and produces
// the uppercase hex digest stored at sops.mac.
type Accumulator struct {
	h hash.Hash
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{h: sha512.New()}
}

// Write absorbs one leaf's cleartext bytes into the digest.
func (a *Accumulator) Write(b []byte) {
	a.h.Write(b)
}

// Digest finalizes the accumulator to its uppercase hexadecimal textual
// form. Calling Digest does not prevent further Write calls from a fresh
// accumulator; each Accumulator is meant for exactly one walk.
func (a *Accumulator) Digest() string {
	return strings.ToUpper(hex.EncodeToString(a.h.Sum(nil)))
}

// Seal encrypts digest as a str leaf under dataKey, with aad set to the
// UTF-8 bytes of the document's lastmodified timestamp, returning the
// envelope string to store at sops.mac.
func Seal(digest string, dataKey, aad []byte) (string, error) {
	iv, err := leafcipher.NewIV()
	if err != nil {
		return "", fmt.Errorf("sealing integrity mac: %w", err)
	}
	leaf := envelope.Leaf{Type: envelope.Str, Str: digest}
	ct, tag, err := leafcipher.Encrypt(dataKey, iv, aad, leaf.Plaintext())
	if err != nil {
		return "", fmt.Errorf("sealing integrity mac: %w", err)
	}
	return envelope.Format(envelope.Ciphertext{Data: ct, IV: iv, Tag: tag, Type: envelope.Str}), nil
}

// Verify decrypts storedMac under dataKey and aad, and compares it
// byte-for-byte against digest, the freshly recomputed value. It returns
// errs.ErrIntegrityMissing if storedMac is empty, errs.ErrAuthenticationFailed
// if the mac envelope itself fails to decrypt, and errs.ErrIntegrityMismatch
// if the digests disagree.
func Verify(storedMac string, dataKey, aad []byte, digest string) error {
	if storedMac == "" {
		return errs.ErrIntegrityMissing
	}
	ct, ok, err := envelope.Parse(storedMac)
	if err != nil {
		return fmt.Errorf("parsing sops.mac: %w", err)
	}
	if !ok {
		return errs.ErrMalformedEnvelope
	}
	plaintext, err := leafcipher.Decrypt(dataKey, ct.IV, aad, ct.Data, ct.Tag)
	if err != nil {
		return fmt.Errorf("decrypting sops.mac: %w: %w", errs.ErrAuthenticationFailed, err)
	}
	if !hmac.Equal(plaintext, []byte(digest)) {
		return errs.ErrIntegrityMismatch
	}
	return nil
}
