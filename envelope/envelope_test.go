package envelope

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValueAndPlaintextRoundTrip(t *testing.T) {
	cases := []interface{}{
		"hello",
		42,
		int64(42),
		3.14,
		true,
		false,
		[]byte("raw bytes"),
	}
	for _, v := range cases {
		leaf := FromValue(v)
		decoded, err := Decode(leaf.Type, leaf.Plaintext())
		require.NoError(t, err)
		assert.Equal(t, leaf.Value(), decoded.Value())
	}
}

func TestDecodeStrFallsBackToBytesOnInvalidUTF8(t *testing.T) {
	invalid := []byte{0xff, 0xfe, 0xfd}
	leaf, err := Decode(Str, invalid)
	require.NoError(t, err)
	assert.Equal(t, Bytes, leaf.Type)
	assert.Equal(t, invalid, leaf.Bytes)
}

func TestDecodeUnsupportedType(t *testing.T) {
	_, err := Decode(Type("nope"), []byte("x"))
	var target *UnsupportedTypeError
	assert.ErrorAs(t, err, &target)
}

func TestDecodeMalformedInt(t *testing.T) {
	_, err := Decode(Int, []byte("not a number"))
	assert.Error(t, err)
}

func TestFormatParseRoundTrip(t *testing.T) {
	ct := Ciphertext{
		Data: []byte("ciphertext-bytes"),
		IV:   make([]byte, 32),
		Tag:  make([]byte, 16),
		Type: Float,
	}
	encoded := Format(ct)
	parsed, ok, err := Parse(encoded)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ct.Data, parsed.Data)
	assert.Equal(t, ct.IV, parsed.IV)
	assert.Equal(t, ct.Tag, parsed.Tag)
	assert.Equal(t, ct.Type, parsed.Type)
}

func TestParseNotAnEnvelope(t *testing.T) {
	_, ok, err := Parse("just a plain string")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseMissingTypeTagDefaultsToStr(t *testing.T) {
	legacy := `ENC[AES256_GCM,data:Zm9v,iv:YmFy,tag:YmF6]`
	ct, ok, err := Parse(legacy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Str, ct.Type)
}

func TestParseUnsupportedTypeTag(t *testing.T) {
	bogus := `ENC[AES256_GCM,data:Zm9v,iv:YmFy,tag:YmF6,type:wat]`
	_, ok, err := Parse(bogus)
	assert.True(t, ok)
	var target *UnsupportedTypeError
	assert.ErrorAs(t, err, &target)
}

func TestParseMalformedBase64(t *testing.T) {
	bogus := `ENC[AES256_GCM,data:not-base64!!,iv:YmFy,tag:YmF6,type:str]`
	_, ok, err := Parse(bogus)
	assert.True(t, ok)
	var target *MalformedEnvelopeError
	assert.ErrorAs(t, err, &target)
}

func TestFormatParseQuickCheck(t *testing.T) {
	f := func(data, iv, tag []byte) bool {
		ct := Ciphertext{Data: data, IV: iv, Tag: tag, Type: Str}
		parsed, ok, err := Parse(Format(ct))
		if err != nil || !ok {
			return false
		}
		return string(parsed.Data) == string(data) &&
			string(parsed.IV) == string(iv) &&
			string(parsed.Tag) == string(tag)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
