package ksec

import (
	"fmt"
	"time"
)

// CurrentVersion is the maximum format version this engine writes. Readers
// honor whatever version an input document carries for AAD derivation and
// envelope parsing; writers upgrade sops.version to CurrentVersion on any
// successful encrypt if the prior value was lower.
const CurrentVersion = "0.9"

// legacyAADVersion is the boundary below which the pre-0.9 AAD derivation
// scheme applies on decrypt.
const legacyAADVersion = "0.9"

// KMSEntry is one AWS KMS recipient.
type KMSEntry struct {
	ARN       string
	Role      string
	Enc       string
	CreatedAt time.Time
}

// PGPEntry is one OpenPGP recipient.
type PGPEntry struct {
	FP        string
	Enc       string
	CreatedAt time.Time
}

// AgeEntry is one age recipient.
type AgeEntry struct {
	Recipient string
	Enc       string
	CreatedAt time.Time
}

// VaultEntry is one HashiCorp Vault transit-engine recipient.
type VaultEntry struct {
	Address    string
	EnginePath string
	KeyName    string
	Enc        string
	CreatedAt  time.Time
}

// Metadata is the decoded form of the reserved "sops" branch.
type Metadata struct {
	Version      string
	KMS          []KMSEntry
	PGP          []PGPEntry
	Age          []AgeEntry
	Vault        []VaultEntry
	LastModified time.Time
	MAC          string
	Attention    string
}

// IsLegacyAAD reports whether m's format version predates the 0.9 AAD
// scheme and thus requires the legacy, order-of-descent derivation on
// decrypt.
func (m Metadata) IsLegacyAAD() bool {
	return m.Version != "" && compareVersion(m.Version, legacyAADVersion) < 0
}

// ValidToOpen reports whether at least one recipient, of any kind, carries
// both a non-empty key identifier and a non-empty wrapped key.
func (m Metadata) ValidToOpen() bool {
	for _, k := range m.KMS {
		if k.ARN != "" && k.Enc != "" {
			return true
		}
	}
	for _, p := range m.PGP {
		if p.FP != "" && p.Enc != "" {
			return true
		}
	}
	for _, a := range m.Age {
		if a.Recipient != "" && a.Enc != "" {
			return true
		}
	}
	for _, v := range m.Vault {
		if v.KeyName != "" && v.Enc != "" {
			return true
		}
	}
	return false
}

// compareVersion does a loose numeric-ish comparison of two "x.y" version
// strings, returning -1, 0, or 1. It is intentionally forgiving: ksec only
// needs to know whether a document predates 0.9.
func compareVersion(a, b string) int {
	pa, pb := splitVersion(a), splitVersion(b)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var va, vb int
		if i < len(pa) {
			va = pa[i]
		}
		if i < len(pb) {
			vb = pb[i]
		}
		if va != vb {
			if va < vb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	var out []int
	cur := 0
	has := false
	for _, r := range v {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			has = true
			continue
		}
		if r == '.' {
			out = append(out, cur)
			cur = 0
			has = false
			continue
		}
	}
	if has || len(out) == 0 {
		out = append(out, cur)
	}
	return out
}

// nodeToMetadata decodes the sops branch Node into a Metadata value. A nil
// node (document never encrypted) yields a zero Metadata, not an error.
func nodeToMetadata(n *Node) (Metadata, error) {
	var m Metadata
	if n == nil {
		return m, nil
	}
	if n.Kind != Mapping {
		return m, fmt.Errorf("sops branch is not a mapping")
	}
	if v := n.Get("version"); v != nil {
		m.Version, _ = v.Value.(string)
	}
	if v := n.Get("lastmodified"); v != nil {
		if s, ok := v.Value.(string); ok && s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return m, fmt.Errorf("parsing sops.lastmodified: %w", err)
			}
			m.LastModified = t
		}
	}
	if v := n.Get("mac"); v != nil {
		m.MAC, _ = v.Value.(string)
	}
	if v := n.Get("attention"); v != nil {
		m.Attention, _ = v.Value.(string)
	}
	if v := n.Get("kms"); v != nil && v.Kind == List {
		for _, item := range v.Items {
			e := KMSEntry{}
			e.ARN = stringField(item, "arn")
			e.Role = stringField(item, "role")
			e.Enc = stringField(item, "enc")
			e.CreatedAt, _ = timeField(item, "created_at")
			m.KMS = append(m.KMS, e)
		}
	}
	if v := n.Get("pgp"); v != nil && v.Kind == List {
		for _, item := range v.Items {
			e := PGPEntry{}
			e.FP = stringField(item, "fp")
			e.Enc = stringField(item, "enc")
			e.CreatedAt, _ = timeField(item, "created_at")
			m.PGP = append(m.PGP, e)
		}
	}
	if v := n.Get("age"); v != nil && v.Kind == List {
		for _, item := range v.Items {
			e := AgeEntry{}
			e.Recipient = stringField(item, "recipient")
			e.Enc = stringField(item, "enc")
			e.CreatedAt, _ = timeField(item, "created_at")
			m.Age = append(m.Age, e)
		}
	}
	if v := n.Get("hcvault"); v != nil && v.Kind == List {
		for _, item := range v.Items {
			e := VaultEntry{}
			e.Address = stringField(item, "vault_address")
			e.EnginePath = stringField(item, "engine_path")
			e.KeyName = stringField(item, "key_name")
			e.Enc = stringField(item, "enc")
			e.CreatedAt, _ = timeField(item, "created_at")
			m.Vault = append(m.Vault, e)
		}
	}
	return m, nil
}

func stringField(n *Node, key string) string {
	if v := n.Get(key); v != nil {
		s, _ := v.Value.(string)
		return s
	}
	return ""
}

func timeField(n *Node, key string) (time.Time, error) {
	s := stringField(n, key)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// metadataToNode encodes m back into the sops branch Node, ready to be set
// at Document.Root's "sops" entry.
func metadataToNode(m Metadata) *Node {
	n := NewMapping()
	n.Set("version", NewLeaf(m.Version))
	n.Set("lastmodified", NewLeaf(m.LastModified.UTC().Format(time.RFC3339)))
	n.Set("mac", NewLeaf(m.MAC))
	if m.Attention != "" {
		n.Set("attention", NewLeaf(m.Attention))
	}
	if len(m.KMS) > 0 {
		list := NewList()
		for _, e := range m.KMS {
			item := NewMapping()
			item.Set("arn", NewLeaf(e.ARN))
			if e.Role != "" {
				item.Set("role", NewLeaf(e.Role))
			}
			item.Set("enc", NewLeaf(e.Enc))
			item.Set("created_at", NewLeaf(e.CreatedAt.UTC().Format(time.RFC3339)))
			list.Items = append(list.Items, item)
		}
		n.Set("kms", list)
	}
	if len(m.PGP) > 0 {
		list := NewList()
		for _, e := range m.PGP {
			item := NewMapping()
			item.Set("fp", NewLeaf(e.FP))
			item.Set("enc", NewLeaf(e.Enc))
			item.Set("created_at", NewLeaf(e.CreatedAt.UTC().Format(time.RFC3339)))
			list.Items = append(list.Items, item)
		}
		n.Set("pgp", list)
	}
	if len(m.Age) > 0 {
		list := NewList()
		for _, e := range m.Age {
			item := NewMapping()
			item.Set("recipient", NewLeaf(e.Recipient))
			item.Set("enc", NewLeaf(e.Enc))
			item.Set("created_at", NewLeaf(e.CreatedAt.UTC().Format(time.RFC3339)))
			list.Items = append(list.Items, item)
		}
		n.Set("age", list)
	}
	if len(m.Vault) > 0 {
		list := NewList()
		for _, e := range m.Vault {
			item := NewMapping()
			item.Set("vault_address", NewLeaf(e.Address))
			item.Set("engine_path", NewLeaf(e.EnginePath))
			item.Set("key_name", NewLeaf(e.KeyName))
			item.Set("enc", NewLeaf(e.Enc))
			item.Set("created_at", NewLeaf(e.CreatedAt.UTC().Format(time.RFC3339)))
			list.Items = append(list.Items, item)
		}
		n.Set("hcvault", list)
	}
	return n
}

// Metadata returns the decoded sops branch of d, or a zero Metadata if d
// has never been encrypted.
func (d *Document) Metadata() (Metadata, error) {
	return nodeToMetadata(d.Root.Get(MetadataKey))
}

// SetMetadata replaces d's sops branch with the encoding of m.
func (d *Document) SetMetadata(m Metadata) {
	d.Root.Set(MetadataKey, metadataToNode(m))
}
