// Package envelope implements ksec's ValueCodec: it turns a typed leaf value
// into cleartext bytes plus a type tag, restores a leaf from that pair, and
// formats/parses the textual ciphertext envelope that replaces a leaf once
// it has been encrypted.
package envelope

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Type identifies the scalar kind a Leaf was encoded from. The set is
// closed: an envelope carrying any other tag is a hard error.
type Type string

const (
	Str   Type = "str"
	Int   Type = "int"
	Float Type = "float"
	Bool  Type = "bool"
	Bytes Type = "bytes"
)

func (t Type) valid() bool {
	switch t {
	case Str, Int, Float, Bool, Bytes:
		return true
	}
	return false
}

// UnsupportedTypeError is returned when an envelope's `type:` tag falls
// outside the closed set above.
type UnsupportedTypeError struct {
	Tag string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported envelope type tag %q", e.Tag)
}

// MalformedEnvelopeError is returned when a leaf ciphertext string fails to
// parse against the envelope grammar.
type MalformedEnvelopeError struct {
	Value string
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("value does not match the ksec envelope format: %s", e.Value)
}

// Leaf is a tagged variant over the scalar types a document can carry.
type Leaf struct {
	Type  Type
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Bytes []byte
}

// FromValue encodes a Go value into a Leaf, picking the narrowest matching
// type. Booleans are tested before integers: a bool is not an int.
func FromValue(v interface{}) Leaf {
	switch val := v.(type) {
	case bool:
		return Leaf{Type: Bool, Bool: val}
	case int:
		return Leaf{Type: Int, Int: int64(val)}
	case int64:
		return Leaf{Type: Int, Int: val}
	case float64:
		return Leaf{Type: Float, Float: val}
	case float32:
		return Leaf{Type: Float, Float: float64(val)}
	case string:
		return Leaf{Type: Str, Str: val}
	case []byte:
		return Leaf{Type: Bytes, Bytes: val}
	default:
		return Leaf{Type: Bytes, Bytes: []byte(fmt.Sprintf("%v", val))}
	}
}

// Value returns the Leaf's Go representation with its original runtime
// type restored.
func (l Leaf) Value() interface{} {
	switch l.Type {
	case Str:
		return l.Str
	case Int:
		return int(l.Int)
	case Float:
		return l.Float
	case Bool:
		return l.Bool
	case Bytes:
		return l.Bytes
	default:
		return nil
	}
}

// Plaintext returns the cleartext byte form fed both to the leaf cipher and
// to the integrity digest. This is the encoding half of the ValueCodec
// contract.
func (l Leaf) Plaintext() []byte {
	switch l.Type {
	case Str:
		return []byte(l.Str)
	case Int:
		return []byte(strconv.FormatInt(l.Int, 10))
	case Float:
		return []byte(strconv.FormatFloat(l.Float, 'f', -1, 64))
	case Bool:
		if l.Bool {
			return []byte("true")
		}
		return []byte("false")
	case Bytes:
		return l.Bytes
	default:
		return nil
	}
}

// Decode restores a Leaf from cleartext bytes and the tag it was encrypted
// under. An unknown tag is a hard error.
//
// For tag Str, bytes that are not valid UTF-8 are returned as Bytes instead
// — compatibility with producers that lacked a bytes tag.
func Decode(tag Type, data []byte) (Leaf, error) {
	switch tag {
	case Str:
		if !utf8.Valid(data) {
			return Leaf{Type: Bytes, Bytes: data}, nil
		}
		return Leaf{Type: Str, Str: string(data)}, nil
	case Int:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return Leaf{}, fmt.Errorf("decoding int leaf: %w", err)
		}
		return Leaf{Type: Int, Int: n}, nil
	case Float:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return Leaf{}, fmt.Errorf("decoding float leaf: %w", err)
		}
		return Leaf{Type: Float, Float: f}, nil
	case Bool:
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return Leaf{}, fmt.Errorf("decoding bool leaf: %w", err)
		}
		return Leaf{Type: Bool, Bool: b}, nil
	case Bytes:
		return Leaf{Type: Bytes, Bytes: data}, nil
	default:
		return Leaf{}, &UnsupportedTypeError{Tag: string(tag)}
	}
}

// Ciphertext is the parsed form of a leaf envelope string, with its
// base64-decoded fields.
type Ciphertext struct {
	Data []byte
	IV   []byte
	Tag  []byte
	Type Type
}

// envRe matches the full grammar; the type group is optional so legacy
// (pre-0.8) documents, which never wrote a `,type:` segment, still parse.
var envRe = regexp.MustCompile(`^ENC\[AES256_GCM,data:([^,]*),iv:([^,]*),tag:([^,]*)(?:,type:([^\]]+))?\]$`)

// Parse parses a leaf ciphertext string. If value does not match the
// envelope grammar at all, ok is false and the caller should treat the leaf
// as already-cleartext.
func Parse(value string) (ct *Ciphertext, ok bool, err error) {
	m := envRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return nil, true, &MalformedEnvelopeError{Value: value}
	}
	iv, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, true, &MalformedEnvelopeError{Value: value}
	}
	tag, err := base64.StdEncoding.DecodeString(m[3])
	if err != nil {
		return nil, true, &MalformedEnvelopeError{Value: value}
	}
	typeTag := Type(m[4])
	if typeTag == "" {
		// Format version < 0.8: the implicit tag is always str.
		typeTag = Str
	}
	if !typeTag.valid() {
		return nil, true, &UnsupportedTypeError{Tag: string(typeTag)}
	}
	return &Ciphertext{Data: data, IV: iv, Tag: tag, Type: typeTag}, true, nil
}

// Format renders a Ciphertext back into its envelope string.
func Format(ct Ciphertext) string {
	return fmt.Sprintf("ENC[AES256_GCM,data:%s,iv:%s,tag:%s,type:%s]",
		base64.StdEncoding.EncodeToString(ct.Data),
		base64.StdEncoding.EncodeToString(ct.IV),
		base64.StdEncoding.EncodeToString(ct.Tag),
		ct.Type)
}
