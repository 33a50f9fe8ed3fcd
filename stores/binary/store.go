// Package binary implements a ksec.DocumentCodec for arbitrary binary
// payloads: the whole file is a single leaf, and once encrypted the sops
// metadata branch is appended after a literal "SOPS=" marker as
// sorted-key JSON rather than living alongside the payload structurally.
package binary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ksecio/ksec"
)

// marker separates the encrypted payload from the trailing metadata JSON.
const marker = "SOPS="

// dataKey is the fixed mapping key the payload is stored under, so the
// tree walker sees an ordinary single-leaf document.
const dataKey = "data"

// Store is a ksec.DocumentCodec for raw-bytes documents.
type Store struct{}

// Decode splits data on the last "SOPS=" marker, if any, treating
// everything before it as the payload and everything after as the sops
// metadata branch. A document with no marker is cleartext that has never
// been encrypted.
func (Store) Decode(data []byte) (*ksec.Document, error) {
	doc := ksec.NewDocument()

	idx := bytes.LastIndex(data, []byte(marker))
	if idx < 0 {
		doc.Root.Set(dataKey, ksec.NewLeaf(append([]byte{}, data...)))
		return doc, nil
	}

	payload := data[:idx]
	doc.Root.Set(dataKey, ksec.NewLeaf(string(payload)))

	var wire wireMetadata
	if err := json.Unmarshal(data[idx+len(marker):], &wire); err != nil {
		return nil, fmt.Errorf("unmarshaling sops metadata: %w", err)
	}
	meta, err := wire.toMetadata()
	if err != nil {
		return nil, err
	}
	doc.SetMetadata(meta)
	return doc, nil
}

// Encode writes the "data" leaf's bytes followed, if the document carries
// sops metadata, by the marker and sorted-key JSON metadata.
func (Store) Encode(doc *ksec.Document) ([]byte, error) {
	leaf := doc.Root.Get(dataKey)
	if leaf == nil || leaf.Kind != ksec.Leaf {
		return nil, fmt.Errorf("binary document has no %q leaf", dataKey)
	}
	payload, err := payloadBytes(leaf.Value)
	if err != nil {
		return nil, err
	}

	meta, err := doc.Metadata()
	if err != nil {
		return nil, fmt.Errorf("reading sops metadata: %w", err)
	}
	if meta.MAC == "" && meta.Version == "" {
		return payload, nil
	}

	metaJSON, err := json.Marshal(metadataToSortedMap(meta))
	if err != nil {
		return nil, fmt.Errorf("marshaling sops metadata: %w", err)
	}

	out := make([]byte, 0, len(payload)+len(marker)+len(metaJSON))
	out = append(out, payload...)
	out = append(out, marker...)
	out = append(out, metaJSON...)
	return out, nil
}

func payloadBytes(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("binary document leaf holds unsupported type %T", v)
	}
}

// wireMetadata mirrors ksec.Metadata for decoding the trailing JSON; field
// order is irrelevant to json.Unmarshal. Encode does not marshal this struct
// (a struct marshals in declared field order); it uses metadataToSortedMap.
type wireMetadata struct {
	Version      string      `json:"version,omitempty"`
	LastModified string      `json:"lastmodified,omitempty"`
	MAC          string      `json:"mac,omitempty"`
	Attention    string      `json:"attention,omitempty"`
	KMS          []wireKMS   `json:"kms,omitempty"`
	PGP          []wirePGP   `json:"pgp,omitempty"`
	Age          []wireAge   `json:"age,omitempty"`
	Vault        []wireVault `json:"hcvault,omitempty"`
}

type wireKMS struct {
	ARN       string `json:"arn"`
	Role      string `json:"role,omitempty"`
	Enc       string `json:"enc"`
	CreatedAt string `json:"created_at"`
}

type wirePGP struct {
	FP        string `json:"fp"`
	Enc       string `json:"enc"`
	CreatedAt string `json:"created_at"`
}

type wireAge struct {
	Recipient string `json:"recipient"`
	Enc       string `json:"enc"`
	CreatedAt string `json:"created_at"`
}

type wireVault struct {
	Address    string `json:"vault_address"`
	EnginePath string `json:"engine_path"`
	KeyName    string `json:"key_name"`
	Enc        string `json:"enc"`
	CreatedAt  string `json:"created_at"`
}

// metadataToSortedMap builds a plain map[string]interface{} tree from m.
// Unlike a struct, encoding/json sorts a map's keys alphabetically on
// Marshal at every nesting level, which is what gives the binary format's
// trailing metadata its sorted-key layout.
func metadataToSortedMap(m ksec.Metadata) map[string]interface{} {
	out := map[string]interface{}{
		"version":      m.Version,
		"lastmodified": m.LastModified.UTC().Format(time.RFC3339),
		"mac":          m.MAC,
	}
	if m.Attention != "" {
		out["attention"] = m.Attention
	}
	if len(m.KMS) > 0 {
		var list []map[string]interface{}
		for _, e := range m.KMS {
			item := map[string]interface{}{"arn": e.ARN, "enc": e.Enc, "created_at": e.CreatedAt.UTC().Format(time.RFC3339)}
			if e.Role != "" {
				item["role"] = e.Role
			}
			list = append(list, item)
		}
		out["kms"] = list
	}
	if len(m.PGP) > 0 {
		var list []map[string]interface{}
		for _, e := range m.PGP {
			list = append(list, map[string]interface{}{"fp": e.FP, "enc": e.Enc, "created_at": e.CreatedAt.UTC().Format(time.RFC3339)})
		}
		out["pgp"] = list
	}
	if len(m.Age) > 0 {
		var list []map[string]interface{}
		for _, e := range m.Age {
			list = append(list, map[string]interface{}{"recipient": e.Recipient, "enc": e.Enc, "created_at": e.CreatedAt.UTC().Format(time.RFC3339)})
		}
		out["age"] = list
	}
	if len(m.Vault) > 0 {
		var list []map[string]interface{}
		for _, e := range m.Vault {
			list = append(list, map[string]interface{}{
				"vault_address": e.Address, "engine_path": e.EnginePath, "key_name": e.KeyName,
				"enc": e.Enc, "created_at": e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		out["hcvault"] = list
	}
	return out
}

func (w wireMetadata) toMetadata() (ksec.Metadata, error) {
	m := ksec.Metadata{Version: w.Version, MAC: w.MAC, Attention: w.Attention}
	if w.LastModified != "" {
		t, err := time.Parse(time.RFC3339, w.LastModified)
		if err != nil {
			return m, fmt.Errorf("parsing lastmodified: %w", err)
		}
		m.LastModified = t
	}
	for _, e := range w.KMS {
		ca, err := parseCreatedAt(e.CreatedAt)
		if err != nil {
			return m, err
		}
		m.KMS = append(m.KMS, ksec.KMSEntry{ARN: e.ARN, Role: e.Role, Enc: e.Enc, CreatedAt: ca})
	}
	for _, e := range w.PGP {
		ca, err := parseCreatedAt(e.CreatedAt)
		if err != nil {
			return m, err
		}
		m.PGP = append(m.PGP, ksec.PGPEntry{FP: e.FP, Enc: e.Enc, CreatedAt: ca})
	}
	for _, e := range w.Age {
		ca, err := parseCreatedAt(e.CreatedAt)
		if err != nil {
			return m, err
		}
		m.Age = append(m.Age, ksec.AgeEntry{Recipient: e.Recipient, Enc: e.Enc, CreatedAt: ca})
	}
	for _, e := range w.Vault {
		ca, err := parseCreatedAt(e.CreatedAt)
		if err != nil {
			return m, err
		}
		m.Vault = append(m.Vault, ksec.VaultEntry{Address: e.Address, EnginePath: e.EnginePath, KeyName: e.KeyName, Enc: e.Enc, CreatedAt: ca})
	}
	return m, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
