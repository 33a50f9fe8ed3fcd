package ksec

import (
	"os"

	"github.com/ksecio/ksec/age"
	"github.com/ksecio/ksec/kms"
	"github.com/ksecio/ksec/pgp"
)

// Ambient environment variables consulted by SeedFromEnvironment.
const (
	EnvKMSARNs = "KSEC_KMS_ARNS"
	EnvPGPFP   = "KSEC_PGP_FP"
	EnvAgeKeys = "KSEC_AGE_RECIPIENTS"
)

// SeedFromEnvironment populates m's recipient lists from ambient
// environment variables, but only for a recipient kind that carries none
// yet — an operator who has already picked recipients in the document
// itself is never overridden by the environment. Once any recipient holds a
// wrapped key (m.ValidToOpen), the environment is ignored entirely.
func SeedFromEnvironment(m *Metadata) {
	if m.ValidToOpen() {
		return
	}
	if len(m.KMS) == 0 {
		if arns, ok := os.LookupEnv(EnvKMSARNs); ok {
			for _, r := range kms.ParseRecipients(arns) {
				m.KMS = append(m.KMS, KMSEntry{ARN: r.ID, Role: r.Extra["role"]})
			}
		}
	}
	if len(m.PGP) == 0 {
		if fps, ok := os.LookupEnv(EnvPGPFP); ok {
			for _, r := range pgp.ParseRecipients(fps) {
				m.PGP = append(m.PGP, PGPEntry{FP: r.ID})
			}
		}
	}
	if len(m.Age) == 0 {
		if recipients, ok := os.LookupEnv(EnvAgeKeys); ok {
			for _, r := range age.ParseRecipients(recipients) {
				m.Age = append(m.Age, AgeEntry{Recipient: r.ID})
			}
		}
	}
}
