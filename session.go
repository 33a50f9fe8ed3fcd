package ksec

import (
	"fmt"
	"time"

	"github.com/ksecio/ksec/age"
	"github.com/ksecio/ksec/errs"
	"github.com/ksecio/ksec/hcvault"
	"github.com/ksecio/ksec/integrity"
	"github.com/ksecio/ksec/keyring"
	"github.com/ksecio/ksec/kms"
	"github.com/ksecio/ksec/pgp"
	"github.com/ksecio/ksec/stash"
)

// Session ties the tree walker, a KeyRing, and an IV stash together across
// a decrypt/edit/encrypt cycle on one Document. Its zero value is not
// usable; construct one with NewSession.
type Session struct {
	Ring *keyring.KeyRing

	stash   *stash.Stash
	dataKey []byte
}

// NewSession returns a Session backed by ring. A single Session is meant to
// live for as long as one document stays open: its stash is what makes a
// decrypt-edit-encrypt cycle reproduce unchanged ciphertext byte for byte.
func NewSession(ring *keyring.KeyRing) *Session {
	return &Session{Ring: ring, stash: stash.New()}
}

// Decrypt unwraps doc's data key via the recipients recorded in its sops
// branch, verifies the integrity MAC, and replaces doc's leaves with their
// cleartext values in place. The data key is remembered for a subsequent
// Encrypt call on the same Session.
func (s *Session) Decrypt(doc *Document) error {
	meta, err := doc.Metadata()
	if err != nil {
		return fmt.Errorf("reading sops metadata: %w", err)
	}
	if !meta.ValidToOpen() {
		return fmt.Errorf("%w: document has no usable recipients", errs.ErrNoUsableRecipient)
	}

	dataKey, err := s.Ring.Unwrap(recipientsFromMetadata(meta))
	if err != nil {
		return err
	}

	root, digest, err := Walk(doc.Root, DecryptMode, dataKey, s.stash, meta.IsLegacyAAD())
	if err != nil {
		return err
	}

	if err := integrity.Verify(meta.MAC, dataKey, macAAD(meta), digest); err != nil {
		return err
	}

	s.dataKey = dataKey
	doc.Root = root
	return nil
}

// Encrypt re-derives or generates doc's data key, wraps it to every
// recipient in its sops branch, re-encrypts every leaf (reusing IVs for
// leaves whose cleartext the stash still remembers unchanged), and seals a
// fresh integrity MAC stamped with now.
func (s *Session) Encrypt(doc *Document, now time.Time) error {
	meta, err := doc.Metadata()
	if err != nil {
		return fmt.Errorf("reading sops metadata: %w", err)
	}
	recipients := recipientsFromMetadata(meta)
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients configured", errs.ErrNoUsableRecipient)
	}

	dataKey := s.dataKey
	if dataKey == nil {
		dataKey, err = keyring.Generate()
		if err != nil {
			return err
		}
	}

	wrapped, err := s.Ring.Wrap(dataKey, recipients, now)
	if err != nil {
		return err
	}

	root, digest, err := Walk(doc.Root, EncryptMode, dataKey, s.stash, false)
	if err != nil {
		return err
	}

	meta.LastModified = now
	if meta.Version == "" || compareVersion(meta.Version, CurrentVersion) < 0 {
		meta.Version = CurrentVersion
	}
	sealed, err := integrity.Seal(digest, dataKey, macAAD(meta))
	if err != nil {
		return err
	}
	meta.MAC = sealed
	applyRecipientsToMetadata(&meta, wrapped)

	s.dataKey = dataKey
	doc.Root = root
	doc.SetMetadata(meta)
	return nil
}

// macAAD is the additional authenticated data the integrity MAC leaf is
// sealed under: the UTF-8 bytes of sops.lastmodified.
func macAAD(m Metadata) []byte {
	return []byte(m.LastModified.UTC().Format(time.RFC3339))
}

// recipientsFromMetadata flattens m's four typed recipient lists into the
// provider-agnostic form keyring.KeyRing operates on.
func recipientsFromMetadata(m Metadata) []keyring.Recipient {
	var out []keyring.Recipient
	for _, e := range m.KMS {
		r := keyring.Recipient{Kind: kms.Kind, ID: e.ARN, Enc: e.Enc, CreatedAt: e.CreatedAt, Extra: map[string]string{}}
		if e.Role != "" {
			r.Extra["role"] = e.Role
		}
		out = append(out, r)
	}
	for _, e := range m.PGP {
		out = append(out, keyring.Recipient{Kind: pgp.Kind, ID: e.FP, Enc: e.Enc, CreatedAt: e.CreatedAt})
	}
	for _, e := range m.Age {
		out = append(out, keyring.Recipient{Kind: age.Kind, ID: e.Recipient, Enc: e.Enc, CreatedAt: e.CreatedAt})
	}
	for _, e := range m.Vault {
		out = append(out, keyring.Recipient{
			Kind:      hcvault.Kind,
			ID:        e.Address,
			Enc:       e.Enc,
			CreatedAt: e.CreatedAt,
			Extra:     map[string]string{"engine_path": e.EnginePath, "key_name": e.KeyName},
		})
	}
	return out
}

// applyRecipientsToMetadata writes wrapped's Enc/CreatedAt back into m's
// typed recipient lists, matched positionally against the order
// recipientsFromMetadata produced them in.
func applyRecipientsToMetadata(m *Metadata, wrapped []keyring.Recipient) {
	i := 0
	for j := range m.KMS {
		m.KMS[j].Enc = wrapped[i].Enc
		m.KMS[j].CreatedAt = wrapped[i].CreatedAt
		i++
	}
	for j := range m.PGP {
		m.PGP[j].Enc = wrapped[i].Enc
		m.PGP[j].CreatedAt = wrapped[i].CreatedAt
		i++
	}
	for j := range m.Age {
		m.Age[j].Enc = wrapped[i].Enc
		m.Age[j].CreatedAt = wrapped[i].CreatedAt
		i++
	}
	for j := range m.Vault {
		m.Vault[j].Enc = wrapped[i].Enc
		m.Vault[j].CreatedAt = wrapped[i].CreatedAt
		i++
	}
}
