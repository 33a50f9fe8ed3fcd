package ksec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Metadata{
		Version:      "0.9",
		LastModified: now,
		MAC:          "ENC[...]",
		Attention:    "danger",
		KMS:          []KMSEntry{{ARN: "arn:aws:kms:us-east-1:1:key/a", Role: "role-a", Enc: "enc-kms", CreatedAt: now}},
		PGP:          []PGPEntry{{FP: "ABCDEF", Enc: "enc-pgp", CreatedAt: now}},
		Age:          []AgeEntry{{Recipient: "age1xyz", Enc: "enc-age", CreatedAt: now}},
		Vault: []VaultEntry{{
			Address: "https://vault.example.com:8200", EnginePath: "transit", KeyName: "my-key",
			Enc: "enc-vault", CreatedAt: now,
		}},
	}

	n := metadataToNode(m)
	got, err := nodeToMetadata(n)
	require.NoError(t, err)

	assert.Equal(t, m.Version, got.Version)
	assert.True(t, m.LastModified.Equal(got.LastModified))
	assert.Equal(t, m.MAC, got.MAC)
	assert.Equal(t, m.Attention, got.Attention)
	require.Len(t, got.KMS, 1)
	assert.Equal(t, m.KMS[0].ARN, got.KMS[0].ARN)
	assert.Equal(t, m.KMS[0].Role, got.KMS[0].Role)
	require.Len(t, got.Vault, 1)
	assert.Equal(t, m.Vault[0].EnginePath, got.Vault[0].EnginePath)
	assert.Equal(t, m.Vault[0].KeyName, got.Vault[0].KeyName)
}

func TestNodeToMetadataNilIsZeroValue(t *testing.T) {
	m, err := nodeToMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, Metadata{}, m)
}

func TestNodeToMetadataRejectsNonMapping(t *testing.T) {
	_, err := nodeToMetadata(NewList())
	assert.Error(t, err)
}

func TestIsLegacyAAD(t *testing.T) {
	assert.True(t, Metadata{Version: "0.8"}.IsLegacyAAD())
	assert.False(t, Metadata{Version: "0.9"}.IsLegacyAAD())
	assert.False(t, Metadata{Version: "1.0"}.IsLegacyAAD())
	assert.False(t, Metadata{}.IsLegacyAAD())
}

func TestValidToOpen(t *testing.T) {
	assert.False(t, Metadata{}.ValidToOpen())
	assert.True(t, Metadata{KMS: []KMSEntry{{ARN: "a", Enc: "e"}}}.ValidToOpen())
	assert.False(t, Metadata{KMS: []KMSEntry{{ARN: "a"}}}.ValidToOpen())
	assert.True(t, Metadata{Vault: []VaultEntry{{KeyName: "k", Enc: "e"}}}.ValidToOpen())
}

func TestCompareVersion(t *testing.T) {
	assert.Equal(t, -1, compareVersion("0.8", "0.9"))
	assert.Equal(t, 0, compareVersion("0.9", "0.9"))
	assert.Equal(t, 1, compareVersion("1.0", "0.9"))
	assert.Equal(t, -1, compareVersion("", "0.1"))
}
