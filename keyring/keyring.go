// Package keyring implements ksec's KeyRing: lifecycle management of the
// single in-memory data key, delegating the actual wrapping/unwrapping of
// that key to pluggable KeyWrapProviders (cloud KMS, PGP, age, Vault
// transit, ...).
package keyring

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ksecio/ksec/errs"
	"github.com/ksecio/ksec/logging"
)

var log = logging.NewLogger("KEYRING")

// DataKeySize is the length, in bytes, of the symmetric key used to
// encrypt every leaf in a document.
const DataKeySize = 32

// Recipient is a provider-agnostic view of one master-key recipient entry.
// Kind selects which registered Provider owns it; ID is that provider's
// natural identifier for the key (ARN, fingerprint, age recipient, Vault
// address); Extra carries provider-specific fields that do not need their
// own struct field (e.g. an AWS role ARN, a Vault engine path and key name).
type Recipient struct {
	Kind      string
	ID        string
	Enc       string
	CreatedAt time.Time
	Extra     map[string]string
}

// Provider implements the wrap/unwrap half of one master-key technology.
type Provider interface {
	// Kind returns the provider's recipient discriminator, e.g. "kms".
	Kind() string
	// Recognizes reports whether r is shaped like a recipient this provider
	// can handle, without attempting any I/O.
	Recognizes(r Recipient) bool
	// Wrap encrypts dataKey for r, returning the provider-specific wrapped
	// form (base64 or armored text, per the provider).
	Wrap(r Recipient, dataKey []byte) (enc string, err error)
	// Unwrap decrypts r.Enc and returns the data key.
	Unwrap(r Recipient) (dataKey []byte, err error)
}

// KeyRing owns the in-memory data key for the duration of one session and
// orchestrates the registered Providers over a recipient list.
type KeyRing struct {
	providers []Provider
}

// New returns a KeyRing that delegates to the given providers, tried in the
// order supplied.
func New(providers ...Provider) *KeyRing {
	return &KeyRing{providers: providers}
}

func (k *KeyRing) providerFor(r Recipient) Provider {
	for _, p := range k.providers {
		if p.Kind() == r.Kind && p.Recognizes(r) {
			return p
		}
	}
	return nil
}

// Generate returns DataKeySize bytes of cryptographically secure randomness.
func Generate() ([]byte, error) {
	key := make([]byte, DataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}
	return key, nil
}

// Unwrap iterates recipients in order and returns the data key from the
// first one whose provider succeeds. Per-recipient failures are logged and
// do not abort the search; only exhausting every recipient is fatal.
func (k *KeyRing) Unwrap(recipients []Recipient) ([]byte, error) {
	var failures errs.Set
	for _, r := range recipients {
		if r.Enc == "" {
			continue
		}
		p := k.providerFor(r)
		if p == nil {
			continue
		}
		dataKey, err := p.Unwrap(r)
		if err != nil {
			log.WithField("kind", r.Kind).WithField("id", r.ID).WithError(err).Warn("unwrap failed, trying next recipient")
			failures = append(failures, fmt.Errorf("%s %q: %w", r.Kind, r.ID, err))
			continue
		}
		return dataKey, nil
	}
	if len(failures) > 0 {
		log.WithField("attempts", len(failures)).Warn("all recipients failed to unwrap the data key")
	}
	return nil, fmt.Errorf("%w: %v", errs.ErrNoUsableRecipient, failures)
}

// Wrap encrypts dataKey for every recipient whose Enc is currently empty,
// returning the recipient list with Enc and CreatedAt filled in for the
// ones that succeeded. Recipients that already carry Enc are left alone.
// A recipient whose provider fails keeps its prior state (empty Enc)
// rather than being dropped from the list. The call fails only if nothing
// was successfully wrapped.
func (k *KeyRing) Wrap(dataKey []byte, recipients []Recipient, now time.Time) ([]Recipient, error) {
	out := make([]Recipient, len(recipients))
	copy(out, recipients)
	succeeded := 0
	for _, r := range recipients {
		if r.Enc != "" {
			succeeded++
			continue
		}
	}
	var failures errs.Set
	for i, r := range out {
		if r.Enc != "" {
			continue
		}
		p := k.providerFor(r)
		if p == nil {
			failures = append(failures, fmt.Errorf("%s %q: no provider recognizes this recipient", r.Kind, r.ID))
			continue
		}
		enc, err := p.Wrap(r, dataKey)
		if err != nil {
			log.WithField("kind", r.Kind).WithField("id", r.ID).WithError(err).Warn("wrap failed for recipient")
			failures = append(failures, fmt.Errorf("%s %q: %w", r.Kind, r.ID, err))
			continue
		}
		out[i].Enc = enc
		out[i].CreatedAt = now
		succeeded++
	}
	if succeeded == 0 {
		return out, fmt.Errorf("%w: %v", errs.ErrNoUsableRecipient, failures)
	}
	return out, nil
}

// Rotate clears every recipient's Enc and re-wraps a freshly generated data
// key to all of them.
func (k *KeyRing) Rotate(recipients []Recipient, now time.Time) ([]byte, []Recipient, error) {
	dataKey, err := Generate()
	if err != nil {
		return nil, nil, err
	}
	cleared := make([]Recipient, len(recipients))
	for i, r := range recipients {
		r.Enc = ""
		cleared[i] = r
	}
	wrapped, err := k.Wrap(dataKey, cleared, now)
	if err != nil {
		return nil, nil, err
	}
	return dataKey, wrapped, nil
}

// AddRecipient appends r to recipients and wraps dataKey to it, returning
// the updated recipient list. Existing recipients are left untouched.
func (k *KeyRing) AddRecipient(recipients []Recipient, dataKey []byte, r Recipient, now time.Time) ([]Recipient, error) {
	r.Enc = ""
	return k.Wrap(dataKey, append(append([]Recipient{}, recipients...), r), now)
}

// RemoveRecipient returns recipients with the entry matching kind and id
// dropped. It does not re-wrap or rotate the data key; callers that need
// the removed recipient to lose access should Rotate afterward.
func RemoveRecipient(recipients []Recipient, kind, id string) []Recipient {
	out := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		if r.Kind == kind && r.ID == id {
			continue
		}
		out = append(out, r)
	}
	return out
}

// StaleRecipients returns the recipients whose wrap predates now.Add(-ttl),
// an advisory used by callers that want to prompt for rotation without the
// KeyRing forcing it.
func StaleRecipients(recipients []Recipient, ttl time.Duration, now time.Time) []Recipient {
	var stale []Recipient
	for _, r := range recipients {
		if r.Enc != "" && now.Sub(r.CreatedAt) > ttl {
			stale = append(stale, r)
		}
	}
	return stale
}
