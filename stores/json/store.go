// Package json implements a ksec.DocumentCodec backed by encoding/json.
// encoding/json's map decoding does not preserve key order, so this codec
// walks the token stream by hand to build an ordered ksec.Document, and
// writes JSON back out by hand for the same reason.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ksecio/ksec"
)

// Store is a ksec.DocumentCodec for structured JSON documents.
type Store struct{}

// Decode parses a JSON document into a ksec.Document, preserving object key
// order.
func (Store) Decode(data []byte) (*ksec.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading top-level token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("top-level json document must be an object")
	}
	n, err := decodeObject(dec)
	if err != nil {
		return nil, err
	}
	return &ksec.Document{Root: n}, nil
}

func decodeObject(dec *json.Decoder) (*ksec.Node, error) {
	out := ksec.NewMapping()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %v", keyTok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out.Set(key, val)
	}
	// consume the closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("reading object close: %w", err)
	}
	return out, nil
}

func decodeArray(dec *json.Decoder) (*ksec.Node, error) {
	out := ksec.NewList()
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", len(out.Items), err)
		}
		out.Items = append(out.Items, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("reading array close: %w", err)
	}
	return out, nil
}

func decodeValue(dec *json.Decoder) (*ksec.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading value token: %w", err)
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", v)
		}
	case json.Number:
		if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return ksec.NewLeaf(n), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("decoding number %q: %w", v, err)
		}
		return ksec.NewLeaf(f), nil
	case string, bool, nil:
		return ksec.NewLeaf(v), nil
	default:
		return nil, fmt.Errorf("unsupported json token type %T", v)
	}
}

// Encode renders doc back into a JSON document, preserving mapping order.
func (Store) Encode(doc *ksec.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeNode(&buf, doc.Root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNode(buf *bytes.Buffer, n *ksec.Node) error {
	switch n.Kind {
	case ksec.Mapping:
		buf.WriteByte('{')
		for i, e := range n.Entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.Key)
			if err != nil {
				return fmt.Errorf("encoding key %q: %w", e.Key, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeNode(buf, e.Value); err != nil {
				return fmt.Errorf("key %q: %w", e.Key, err)
			}
		}
		buf.WriteByte('}')
	case ksec.List:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeNode(buf, item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case ksec.Leaf:
		b, err := json.Marshal(n.Value)
		if err != nil {
			return fmt.Errorf("encoding leaf value: %w", err)
		}
		buf.Write(b)
	default:
		return fmt.Errorf("unsupported node kind %d", n.Kind)
	}
	return nil
}
