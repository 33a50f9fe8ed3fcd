package yaml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksecio/ksec/envelope"
)

func TestDecodePreservesKeyOrder(t *testing.T) {
	input := []byte("zebra: 1\napple: 2\nmango: 3\n")
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	var keys []string
	for _, e := range doc.Root.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"zebra", "apple", "mango"}, keys)
}

func TestDecodeNestedMappingsAndLists(t *testing.T) {
	input := []byte(`
database:
  host: localhost
  port: 5432
  tags:
    - prod
    - primary
`)
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	db := doc.Root.Get("database")
	require.NotNil(t, db)
	assert.Equal(t, "localhost", db.Get("host").Value)
	assert.Equal(t, 5432, db.Get("port").Value)

	tags := db.Get("tags")
	require.Len(t, tags.Items, 2)
	assert.Equal(t, "prod", tags.Items[0].Value)
	assert.Equal(t, "primary", tags.Items[1].Value)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	input := []byte("name: alice\nage: 30\nactive: true\n")
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	out, err := Store{}.Encode(doc)
	require.NoError(t, err)

	doc2, err := Store{}.Decode(out)
	require.NoError(t, err)

	assert.Equal(t, doc.Root.Get("name").Value, doc2.Root.Get("name").Value)
	assert.Equal(t, doc.Root.Get("age").Value, doc2.Root.Get("age").Value)
	assert.Equal(t, doc.Root.Get("active").Value, doc2.Root.Get("active").Value)
}

func TestEncodePreservesLiteralBlockStyle(t *testing.T) {
	input := []byte("cert: |\n  line one\n  line two\n")
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	leaf := doc.Root.Get("cert")
	require.NotNil(t, leaf)
	assert.Equal(t, "literal", leaf.Style)

	out, err := Store{}.Encode(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "|")
}

func TestDecodeRejectsNonMappingTopLevel(t *testing.T) {
	_, err := Store{}.Decode([]byte("- just\n- a\n- list\n"))
	assert.Error(t, err)
}

func TestDecodeEmptyDocument(t *testing.T) {
	doc, err := Store{}.Decode([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Root.Entries)
}

func TestRoundTripThroughEnvelopeTypes(t *testing.T) {
	// Sanity check that every scalar type envelope.FromValue understands
	// survives a yaml decode with its native Go type.
	doc, err := Store{}.Decode([]byte("s: hello\ni: 7\nf: 1.5\nb: false\n"))
	require.NoError(t, err)

	assert.IsType(t, "", doc.Root.Get("s").Value)
	assert.Equal(t, envelope.Int, envelope.FromValue(doc.Root.Get("i").Value).Type)
	assert.Equal(t, envelope.Float, envelope.FromValue(doc.Root.Get("f").Value).Type)
	assert.Equal(t, envelope.Bool, envelope.FromValue(doc.Root.Get("b").Value).Type)
}
