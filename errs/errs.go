// Package errs holds the sentinel errors for ksec's closed failure set,
// shared across packages so callers can use errors.Is regardless of which
// layer produced the failure.
package errs

import (
	"fmt"
	"strings"
)

type sentinel string

func (e sentinel) Error() string { return string(e) }

const (
	// ErrMalformedEnvelope: a leaf ciphertext failed the envelope grammar.
	ErrMalformedEnvelope = sentinel("malformed envelope")
	// ErrUnsupportedType: an envelope's type tag fell outside {str,int,float,bool,bytes}.
	ErrUnsupportedType = sentinel("unsupported envelope type")
	// ErrAuthenticationFailed: a GCM tag failed to verify.
	ErrAuthenticationFailed = sentinel("authentication failed")
	// ErrIntegrityMissing: the metadata branch's mac field was absent on decrypt.
	ErrIntegrityMissing = sentinel("integrity mac missing")
	// ErrIntegrityMismatch: the recomputed digest did not match the stored mac.
	ErrIntegrityMismatch = sentinel("integrity mac mismatch")
	// ErrNoUsableRecipient: no provider succeeded wrapping or unwrapping the data key.
	ErrNoUsableRecipient = sentinel("no usable recipient")
	// ErrProviderTimeout: a provider call exceeded its operation-wide timeout.
	ErrProviderTimeout = sentinel("provider timed out")
	// ErrNoChange: the document was not modified during an edit session.
	ErrNoChange = sentinel("document not modified")
)

// PathError annotates an error with the tree path of the leaf that caused
// it.
type PathError struct {
	Path []string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", strings.Join(e.Path, ":"), e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Set accumulates independently fallible errors (one per recipient) into a
// single error: joined for display, never silently dropped.
type Set []error

func (s Set) Error() string {
	parts := make([]string, len(s))
	for i, err := range s {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
