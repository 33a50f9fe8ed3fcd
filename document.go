package ksec

// Kind discriminates the three node shapes a document tree can hold.
type Kind int

const (
	// Mapping is an ordered key→node branch.
	Mapping Kind = iota
	// List is an ordered sequence of nodes.
	List
	// Leaf is a typed scalar.
	Leaf
)

// MetadataKey is the reserved top-level mapping key under which all
// encryption metadata lives. It is excluded from traversal only at the
// document root; a nested mapping that happens to be named "sops" is
// ordinary data.
const MetadataKey = "sops"

// Entry is one key/value pair inside a Mapping node. Order of Entries
// within a Mapping reflects the source document's insertion order and must
// be preserved end to end, since it feeds both the integrity digest and the
// AAD derivation.
type Entry struct {
	Key   string
	Value *Node
}

// Node is one node of a document tree: a Mapping, a List, or a Leaf.
//
// A Leaf's Value holds a Go value of one of string, int, int64, float64,
// bool, or []byte while the document is in cleartext, or a string envelope
// (see package envelope) while it is encrypted. Style carries a codec's
// "preserved literal" marker (e.g. a YAML block-scalar style) across
// encrypt/decrypt so the marker survives a round trip even though the
// engine itself never interprets it.
type Node struct {
	Kind    Kind
	Entries []Entry
	Items   []*Node
	Value   interface{}
	Style   string
}

// NewMapping returns an empty Mapping node.
func NewMapping() *Node { return &Node{Kind: Mapping} }

// NewList returns an empty List node.
func NewList() *Node { return &Node{Kind: List} }

// NewLeaf returns a Leaf node holding v.
func NewLeaf(v interface{}) *Node { return &Node{Kind: Leaf, Value: v} }

// Set inserts or replaces the value under key, preserving the position of
// an existing entry and appending a new one at the end otherwise.
func (n *Node) Set(key string, value *Node) {
	for i, e := range n.Entries {
		if e.Key == key {
			n.Entries[i].Value = value
			return
		}
	}
	n.Entries = append(n.Entries, Entry{Key: key, Value: value})
}

// Get returns the value under key, or nil if it is not present.
func (n *Node) Get(key string) *Node {
	for _, e := range n.Entries {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// Delete removes the entry under key, if present.
func (n *Node) Delete(key string) {
	for i, e := range n.Entries {
		if e.Key == key {
			n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
			return
		}
	}
}

// Document is a rooted ksec tree: a Mapping whose entries are the user's
// top-level keys, plus (once encrypted at least once) a MetadataKey entry
// holding the sops metadata branch.
type Document struct {
	Root *Node
}

// NewDocument returns an empty Document ready to be populated and encrypted.
func NewDocument() *Document {
	return &Document{Root: NewMapping()}
}
