package ksec

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksecio/ksec/errs"
	"github.com/ksecio/ksec/keyring"
	"github.com/ksecio/ksec/kms"
)

// fakeKMS is a minimal keyring.Provider standing in for AWS KMS so Session
// can be exercised end to end without any network access.
type fakeKMS struct{}

func (fakeKMS) Kind() string { return kms.Kind }

func (fakeKMS) Recognizes(r keyring.Recipient) bool { return r.Kind == kms.Kind }

func (fakeKMS) Wrap(r keyring.Recipient, dataKey []byte) (string, error) {
	return "wrapped:" + string(dataKey), nil
}

func (fakeKMS) Unwrap(r keyring.Recipient) ([]byte, error) {
	if len(r.Enc) < len("wrapped:") {
		return nil, fmt.Errorf("malformed fake wrap")
	}
	return []byte(r.Enc[len("wrapped:"):]), nil
}

func newTestSession() *Session {
	return NewSession(keyring.New(fakeKMS{}))
}

func testDocWithOneKMSRecipient() *Document {
	doc := NewDocument()
	doc.Root.Set("username", NewLeaf("alice"))
	doc.SetMetadata(Metadata{KMS: []KMSEntry{{ARN: "arn:aws:kms:us-east-1:1:key/test"}}})
	return doc
}

func TestSessionEncryptThenDecryptRoundTrip(t *testing.T) {
	s := newTestSession()
	doc := testDocWithOneKMSRecipient()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Encrypt(doc, now))

	meta, err := doc.Metadata()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, meta.Version)
	assert.NotEmpty(t, meta.MAC)
	assert.NotEmpty(t, meta.KMS[0].Enc)

	encryptedName, ok := doc.Root.Get("username").Value.(string)
	require.True(t, ok)
	assert.NotEqual(t, "alice", encryptedName)

	s2 := newTestSession()
	require.NoError(t, s2.Decrypt(doc))
	assert.Equal(t, "alice", doc.Root.Get("username").Value)
}

func TestSessionEncryptFailsWithNoRecipients(t *testing.T) {
	s := newTestSession()
	doc := NewDocument()
	doc.Root.Set("x", NewLeaf("y"))

	err := s.Encrypt(doc, time.Now())
	assert.ErrorIs(t, err, errs.ErrNoUsableRecipient)
}

func TestSessionDecryptFailsWhenNoRecipientUsable(t *testing.T) {
	s := newTestSession()
	doc := NewDocument()
	doc.SetMetadata(Metadata{})

	err := s.Decrypt(doc)
	assert.ErrorIs(t, err, errs.ErrNoUsableRecipient)
}

func TestSessionDecryptRejectsTamperedLeaf(t *testing.T) {
	s := newTestSession()
	doc := testDocWithOneKMSRecipient()
	require.NoError(t, s.Encrypt(doc, time.Now()))

	doc.Root.Set("username", NewLeaf("tampered-ciphertext"))

	s2 := newTestSession()
	err := s2.Decrypt(doc)
	assert.Error(t, err)
}

func TestSessionEncryptIsStashStableAcrossSameSession(t *testing.T) {
	s := newTestSession()
	doc := testDocWithOneKMSRecipient()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Encrypt(doc, now))
	firstCiphertext := doc.Root.Get("username").Value

	require.NoError(t, s.Decrypt(doc))
	require.NoError(t, s.Encrypt(doc, now.Add(time.Hour)))

	assert.Equal(t, firstCiphertext, doc.Root.Get("username").Value)
}

func TestRecipientsFromMetadataAndBack(t *testing.T) {
	m := Metadata{
		KMS: []KMSEntry{{ARN: "arn1", Role: "role1"}},
		PGP: []PGPEntry{{FP: "fp1"}},
	}
	recipients := recipientsFromMetadata(m)
	require.Len(t, recipients, 2)
	assert.Equal(t, "role1", recipients[0].Extra["role"])

	wrapped := make([]keyring.Recipient, len(recipients))
	copy(wrapped, recipients)
	now := time.Now()
	for i := range wrapped {
		wrapped[i].Enc = fmt.Sprintf("enc-%d", i)
		wrapped[i].CreatedAt = now
	}
	applyRecipientsToMetadata(&m, wrapped)
	assert.Equal(t, "enc-0", m.KMS[0].Enc)
	assert.Equal(t, "enc-1", m.PGP[0].Enc)
}
