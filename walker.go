package ksec

import (
	"github.com/ksecio/ksec/envelope"
	"github.com/ksecio/ksec/errs"
	"github.com/ksecio/ksec/integrity"
	"github.com/ksecio/ksec/leafcipher"
	"github.com/ksecio/ksec/stash"
)

// Mode selects which direction a walk runs.
type Mode int

const (
	// EncryptMode replaces cleartext leaves with ciphertext envelopes.
	EncryptMode Mode = iota
	// DecryptMode restores typed cleartext leaves from ciphertext envelopes.
	DecryptMode
)

// cipher bundles the data key and stash a single walk operates with,
// composing envelope (ValueCodec) and leafcipher (LeafCipher): the walker
// derives AAD, and the cipher consults the stash under a path's
// already-derived AAD.
type cipher struct {
	dataKey []byte
	stash   *stash.Stash
}

func (c *cipher) encryptLeaf(leaf envelope.Leaf, aad string) (string, error) {
	plaintext := leaf.Plaintext()
	iv, reused := c.stash.Lookup(aad, plaintext)
	if !reused {
		var err error
		iv, err = leafcipher.NewIV()
		if err != nil {
			return "", err
		}
	}
	ct, tag, err := leafcipher.Encrypt(c.dataKey, iv, []byte(aad), plaintext)
	if err != nil {
		return "", err
	}
	return envelope.Format(envelope.Ciphertext{Data: ct, IV: iv, Tag: tag, Type: leaf.Type}), nil
}

// decryptLeaf returns the decoded leaf. When value does not match the
// envelope grammar it is returned unchanged as a str leaf.
func (c *cipher) decryptLeaf(value string, aad string) (envelope.Leaf, error) {
	ct, ok, err := envelope.Parse(value)
	if err != nil {
		return envelope.Leaf{}, err
	}
	if !ok {
		return envelope.Leaf{Type: envelope.Str, Str: value}, nil
	}
	plaintext, err := leafcipher.Decrypt(c.dataKey, ct.IV, []byte(aad), ct.Data, ct.Tag)
	if err != nil {
		return envelope.Leaf{}, errs.ErrAuthenticationFailed
	}
	leaf, err := envelope.Decode(ct.Type, plaintext)
	if err != nil {
		return envelope.Leaf{}, err
	}
	c.stash.Put(aad, plaintext, ct.IV)
	return leaf, nil
}

// walkState carries the immutable per-walk configuration through the
// recursive descent.
type walkState struct {
	mode   Mode
	cipher *cipher
	acc    *integrity.Accumulator
	legacy bool
}

// Walk deterministically traverses root in the given mode, producing a new
// tree whose leaves have been encrypted or decrypted, and returns the
// SHA-512 digest accumulated over cleartext leaf bytes in traversal order.
// The sops branch at the document root is passed through untouched;
// everywhere else it is ordinary data.
func Walk(root *Node, mode Mode, dataKey []byte, st *stash.Stash, legacyAAD bool) (*Node, string, error) {
	ws := &walkState{
		mode:   mode,
		cipher: &cipher{dataKey: dataKey, stash: st},
		acc:    integrity.New(),
		legacy: legacyAAD,
	}
	out, err := ws.walkMapping(root, nil, "", true)
	if err != nil {
		return nil, "", err
	}
	return out, ws.acc.Digest(), nil
}

// descend computes the AAD for a child reached via mapping key, given the
// AAD inherited from its parent and, for the legacy scheme, the running
// accumulation carried across this mapping's preceding siblings.
func (ws *walkState) descend(parentAAD, carryAAD, key string) string {
	if ws.legacy {
		// Pre-0.9: append the current key to whatever has already
		// accumulated from this mapping's earlier siblings, with no
		// separator. Decrypt-only; pinned to this exact, sibling-order
		// dependent construction so legacy documents keep opening.
		return carryAAD + key
	}
	return parentAAD + key + ":"
}

func (ws *walkState) walkMapping(n *Node, path []string, aad string, isRoot bool) (*Node, error) {
	out := &Node{Kind: Mapping}
	carry := aad
	for _, entry := range n.Entries {
		if isRoot && entry.Key == MetadataKey {
			out.Entries = append(out.Entries, entry)
			continue
		}
		childPath := append(append([]string{}, path...), entry.Key)
		childAAD := ws.descend(aad, carry, entry.Key)
		carry = childAAD
		newVal, err := ws.walkValue(entry.Value, childPath, childAAD)
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, Entry{Key: entry.Key, Value: newVal})
	}
	return out, nil
}

func (ws *walkState) walkValue(n *Node, path []string, aad string) (*Node, error) {
	switch n.Kind {
	case Mapping:
		return ws.walkMapping(n, path, aad, false)
	case List:
		out := &Node{Kind: List}
		for _, item := range n.Items {
			// A list index contributes no bytes to AAD and the element
			// inherits its parent mapping entry's AAD verbatim.
			newItem, err := ws.walkValue(item, path, aad)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, newItem)
		}
		return out, nil
	case Leaf:
		return ws.walkLeaf(n, path, aad)
	default:
		return n, nil
	}
}

func (ws *walkState) walkLeaf(n *Node, path []string, aad string) (*Node, error) {
	switch ws.mode {
	case EncryptMode:
		leaf := envelope.FromValue(n.Value)
		ws.acc.Write(leaf.Plaintext())
		env, err := ws.cipher.encryptLeaf(leaf, aad)
		if err != nil {
			return nil, &errs.PathError{Path: path, Err: err}
		}
		return &Node{Kind: Leaf, Value: env, Style: n.Style}, nil
	case DecryptMode:
		str, ok := n.Value.(string)
		if !ok {
			return nil, &errs.PathError{Path: path, Err: errs.ErrMalformedEnvelope}
		}
		leaf, err := ws.cipher.decryptLeaf(str, aad)
		if err != nil {
			return nil, &errs.PathError{Path: path, Err: err}
		}
		ws.acc.Write(leaf.Plaintext())
		return &Node{Kind: Leaf, Value: leaf.Value(), Style: n.Style}, nil
	default:
		return nil, &errs.PathError{Path: path, Err: errs.ErrMalformedEnvelope}
	}
}
