package ksec

// DocumentCodec serializes and deserializes a Document to and from one
// on-disk representation (structured YAML, structured JSON, or a raw-bytes
// envelope). Implementations live under the stores subpackages; the core
// engine never imports them.
type DocumentCodec interface {
	// Decode parses data into a Document, preserving mapping order and
	// list shape exactly, since both feed AAD derivation and the
	// integrity digest.
	Decode(data []byte) (*Document, error)
	// Encode renders doc back into its on-disk form, including its sops
	// metadata branch if present.
	Encode(doc *Document) ([]byte, error)
}
