package stash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupMissReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Lookup("aad", []byte("value"))
	assert.False(t, ok)
}

func TestPutThenLookupHits(t *testing.T) {
	s := New()
	iv := []byte("0123456789012345678901234567890")
	s.Put("aad", []byte("value"), iv)

	got, ok := s.Lookup("aad", []byte("value"))
	assert.True(t, ok)
	assert.Equal(t, iv, got)
}

func TestLookupConsumesEntry(t *testing.T) {
	s := New()
	iv := []byte("iv")
	s.Put("aad", []byte("value"), iv)

	_, ok := s.Lookup("aad", []byte("value"))
	assert.True(t, ok)

	_, ok = s.Lookup("aad", []byte("value"))
	assert.False(t, ok, "a consumed entry must not be returned again")
}

func TestLookupDistinguishesCleartext(t *testing.T) {
	s := New()
	s.Put("aad", []byte("value-a"), []byte("iv-a"))
	s.Put("aad", []byte("value-b"), []byte("iv-b"))

	got, ok := s.Lookup("aad", []byte("value-b"))
	assert.True(t, ok)
	assert.Equal(t, []byte("iv-b"), got)

	got, ok = s.Lookup("aad", []byte("value-a"))
	assert.True(t, ok)
	assert.Equal(t, []byte("iv-a"), got)
}

func TestLookupDistinguishesAAD(t *testing.T) {
	s := New()
	s.Put("aad-one", []byte("value"), []byte("iv-one"))

	_, ok := s.Lookup("aad-two", []byte("value"))
	assert.False(t, ok)
}

func TestPutCopiesSliceContents(t *testing.T) {
	s := New()
	cleartext := []byte("mutate me")
	iv := []byte("mutate me too....")
	s.Put("aad", cleartext, iv)

	cleartext[0] = 'X'
	iv[0] = 'X'

	got, ok := s.Lookup("aad", []byte("mutate me"))
	assert.True(t, ok)
	assert.Equal(t, byte('m'), got[0])
}
