package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePreservesKeyOrder(t *testing.T) {
	input := []byte(`{"zebra": 1, "apple": 2, "mango": 3}`)
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	var keys []string
	for _, e := range doc.Root.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"zebra", "apple", "mango"}, keys)
}

func TestDecodeTypes(t *testing.T) {
	input := []byte(`{"s":"hi","i":42,"f":1.5,"b":true,"n":null,"list":[1,2,3]}`)
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	assert.Equal(t, "hi", doc.Root.Get("s").Value)
	assert.Equal(t, int64(42), doc.Root.Get("i").Value)
	assert.Equal(t, 1.5, doc.Root.Get("f").Value)
	assert.Equal(t, true, doc.Root.Get("b").Value)
	assert.Nil(t, doc.Root.Get("n").Value)

	list := doc.Root.Get("list")
	require.Len(t, list.Items, 3)
	assert.Equal(t, int64(1), list.Items[0].Value)
}

func TestDecodeRejectsNonObjectTopLevel(t *testing.T) {
	_, err := Store{}.Decode([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Store{}.Decode([]byte(`{"ok": `))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	input := []byte(`{"name":"alice","age":30,"tags":["a","b"],"nested":{"x":1}}`)
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	out, err := Store{}.Encode(doc)
	require.NoError(t, err)

	doc2, err := Store{}.Decode(out)
	require.NoError(t, err)

	assert.Equal(t, doc.Root.Get("name").Value, doc2.Root.Get("name").Value)
	assert.Equal(t, doc.Root.Get("age").Value, doc2.Root.Get("age").Value)
	assert.Equal(t, doc.Root.Get("nested").Get("x").Value, doc2.Root.Get("nested").Get("x").Value)
}

func TestEncodePreservesKeyOrderInOutput(t *testing.T) {
	input := []byte(`{"zebra":1,"apple":2}`)
	doc, err := Store{}.Decode(input)
	require.NoError(t, err)

	out, err := Store{}.Encode(doc)
	require.NoError(t, err)

	zebraPos := indexOf(string(out), `"zebra"`)
	applePos := indexOf(string(out), `"apple"`)
	assert.Less(t, zebraPos, applePos)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
