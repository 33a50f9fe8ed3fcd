// Package stash implements ksec's per-session IV stash: a flat cache,
// keyed by leaf AAD, that remembers each leaf's {iv, aad, cleartext} across
// a decrypt/edit/encrypt cycle so that re-encrypting an unchanged leaf
// reproduces its exact ciphertext. This keeps diffs of encrypted documents
// limited to the leaves an operator actually touched.
package stash

// Entry is one remembered leaf: the cleartext it held and the IV it was
// last encrypted with.
type Entry struct {
	AAD       string
	Cleartext []byte
	IV        []byte
}

// Stash is a session-local, write-during-decrypt / read-during-encrypt
// cache of leaf IVs. It is not safe for concurrent use; a single document
// walk owns it at a time.
type Stash struct {
	byAAD map[string][]Entry
}

// New returns an empty Stash.
func New() *Stash {
	return &Stash{byAAD: make(map[string][]Entry)}
}

// Put records a leaf's cleartext and IV under the given AAD, appending to
// any existing entries at that AAD (sibling list elements share AAD).
func (s *Stash) Put(aad string, cleartext, iv []byte) {
	s.byAAD[aad] = append(s.byAAD[aad], Entry{AAD: aad, Cleartext: append([]byte{}, cleartext...), IV: append([]byte{}, iv...)})
}

// Lookup returns the IV stashed for a leaf whose cleartext matches byte for
// byte, under the given AAD, consuming that entry so a later sibling with
// identical cleartext does not reuse the same IV a second time. The second
// return value is false when no stashed entry with matching cleartext
// exists, in which case the caller must mint a fresh IV.
func (s *Stash) Lookup(aad string, cleartext []byte) (iv []byte, ok bool) {
	entries := s.byAAD[aad]
	for i, e := range entries {
		if bytesEqual(e.Cleartext, cleartext) {
			s.byAAD[aad] = append(entries[:i:i], entries[i+1:]...)
			return e.IV, true
		}
	}
	return nil, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
