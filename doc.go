// Package ksec implements the tree-walking encryption engine at the core of
// a structured-secrets editor: it walks a hierarchical document, encrypts
// each leaf value in place with AES-256-GCM while leaving keys, nesting and
// list shape in cleartext, authenticates the whole leaf sequence with a
// SHA-512 digest, and stores a single per-document data key wrapped by one
// or more external master-key providers.
//
// Serialization (YAML, JSON, raw bytes), filesystem I/O and the interactive
// editor loop are not part of this package; see the stores subpackage for
// concrete DocumentCodec implementations, and the keyring subpackage plus
// its kms/pgp/age/hcvault siblings for the pluggable KeyWrapProviders.
package ksec
