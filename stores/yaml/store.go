// Package yaml implements a ksec.DocumentCodec backed by go.yaml.in/yaml/v3,
// walking its yaml.Node tree directly so mapping order and block-literal
// scalar styles survive a decode/encode round trip untouched.
package yaml

import (
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/ksecio/ksec"
)

// literalStyle is the Node.Style marker ksec.Node.Style carries for a YAML
// block-literal scalar ("|"), forwarded across encrypt/decrypt by the
// tree walker without interpretation.
const literalStyle = "literal"

// Store is a ksec.DocumentCodec for structured YAML documents.
type Store struct{}

// Decode parses a YAML document into a ksec.Document.
func (Store) Decode(data []byte) (*ksec.Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("unmarshaling yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return ksec.NewDocument(), nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top-level yaml document must be a mapping")
	}
	n, err := mappingToNode(top)
	if err != nil {
		return nil, err
	}
	return &ksec.Document{Root: n}, nil
}

// Encode renders doc back into a YAML document, reassembling the sops
// branch as an ordinary trailing mapping key.
func (Store) Encode(doc *ksec.Document) ([]byte, error) {
	n, err := nodeToYAML(doc.Root)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshaling yaml: %w", err)
	}
	return out, nil
}

func mappingToNode(n *yaml.Node) (*ksec.Node, error) {
	out := ksec.NewMapping()
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		val, err := yamlToNode(n.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out.Set(key, val)
	}
	return out, nil
}

func yamlToNode(n *yaml.Node) (*ksec.Node, error) {
	switch n.Kind {
	case yaml.MappingNode:
		return mappingToNode(n)
	case yaml.SequenceNode:
		out := ksec.NewList()
		for i, item := range n.Content {
			child, err := yamlToNode(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out.Items = append(out.Items, child)
		}
		return out, nil
	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("decoding scalar: %w", err)
		}
		leaf := ksec.NewLeaf(v)
		if n.Style == yaml.LiteralStyle {
			leaf.Style = literalStyle
		}
		return leaf, nil
	case yaml.AliasNode:
		return yamlToNode(n.Alias)
	default:
		return nil, fmt.Errorf("unsupported yaml node kind %d", n.Kind)
	}
}

func nodeToYAML(n *ksec.Node) (*yaml.Node, error) {
	switch n.Kind {
	case ksec.Mapping:
		out := &yaml.Node{Kind: yaml.MappingNode}
		for _, e := range n.Entries {
			key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key}
			val, err := nodeToYAML(e.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", e.Key, err)
			}
			out.Content = append(out.Content, key, val)
		}
		return out, nil
	case ksec.List:
		out := &yaml.Node{Kind: yaml.SequenceNode}
		for i, item := range n.Items {
			child, err := nodeToYAML(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out.Content = append(out.Content, child)
		}
		return out, nil
	case ksec.Leaf:
		scalar := &yaml.Node{}
		if err := scalar.Encode(n.Value); err != nil {
			return nil, fmt.Errorf("encoding scalar: %w", err)
		}
		if n.Style == literalStyle && scalar.Tag == "!!str" {
			scalar.Style = yaml.LiteralStyle
		}
		return scalar, nil
	default:
		return nil, fmt.Errorf("unsupported node kind %d", n.Kind)
	}
}
