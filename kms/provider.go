// Package kms implements a keyring.Provider that wraps and unwraps ksec
// data keys using AWS KMS, optionally assuming an IAM role first.
package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/ksecio/ksec/keyring"
	"github.com/ksecio/ksec/logging"
)

var log = logging.NewLogger("KMS")

// Kind is the recipient discriminator this provider owns.
const Kind = "kms"

// arnRegex matches an AWS KMS key or alias ARN, e.g.
// "arn:aws:kms:us-west-2:107501996527:key/612d5f0p-...".
var arnRegex = regexp.MustCompile(`^arn:aws[\w-]*:kms:([^:]+):[0-9]+:(key|alias)/.+$`)

// osHostname is overridable in tests.
var osHostname = os.Hostname

// Provider wraps/unwraps data keys through AWS KMS.
type Provider struct {
	// CredentialsProvider overrides the default credential chain, when set.
	CredentialsProvider aws.CredentialsProvider
}

// New returns a KMS-backed keyring.Provider using the default AWS
// credential chain.
func New() *Provider { return &Provider{} }

func (p *Provider) Kind() string { return Kind }

func (p *Provider) Recognizes(r keyring.Recipient) bool {
	return r.Kind == Kind && arnRegex.MatchString(r.ID)
}

// Wrap encrypts dataKey with the KMS key named by r.ID, returning the
// base64-encoded ciphertext blob.
func (p *Provider) Wrap(r keyring.Recipient, dataKey []byte) (string, error) {
	client, err := p.client(r)
	if err != nil {
		return "", err
	}
	out, err := client.Encrypt(context.Background(), &awskms.EncryptInput{
		KeyId:     aws.String(r.ID),
		Plaintext: dataKey,
	})
	if err != nil {
		log.WithField("arn", r.ID).WithError(err).Info("encryption failed")
		return "", fmt.Errorf("encrypting data key with AWS KMS: %w", err)
	}
	log.WithField("arn", r.ID).Info("encryption succeeded")
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Unwrap decrypts r.Enc with the KMS key named by r.ID.
func (p *Provider) Unwrap(r keyring.Recipient) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(r.Enc)
	if err != nil {
		return nil, fmt.Errorf("base64-decoding encrypted data key: %w", err)
	}
	client, err := p.client(r)
	if err != nil {
		return nil, err
	}
	out, err := client.Decrypt(context.Background(), &awskms.DecryptInput{
		KeyId:          aws.String(r.ID),
		CiphertextBlob: blob,
	})
	if err != nil {
		log.WithField("arn", r.ID).WithError(err).Info("decryption failed")
		return nil, fmt.Errorf("decrypting data key with AWS KMS: %w", err)
	}
	log.WithField("arn", r.ID).Info("decryption succeeded")
	return out.Plaintext, nil
}

func (p *Provider) client(r keyring.Recipient) (*awskms.Client, error) {
	m := arnRegex.FindStringSubmatch(r.ID)
	if m == nil {
		return nil, fmt.Errorf("no valid ARN found in %q", r.ID)
	}
	region := m[1]

	cfg, err := config.LoadDefaultConfig(context.Background(), func(lo *config.LoadOptions) error {
		if p.CredentialsProvider != nil {
			lo.Credentials = p.CredentialsProvider
		}
		lo.Region = region
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if role := r.Extra["role"]; role != "" {
		if err := assumeRole(&cfg, role); err != nil {
			return nil, err
		}
	}
	return awskms.NewFromConfig(cfg), nil
}

// assumeRole mutates cfg in place to use temporary credentials obtained by
// assuming roleArn, with a session name of "ksec@<hostname>".
func assumeRole(cfg *aws.Config, roleArn string) error {
	hostname, err := osHostname()
	if err != nil {
		return fmt.Errorf("constructing STS session name: %w", err)
	}
	name := "ksec@" + hostname
	client := sts.NewFromConfig(*cfg)
	out, err := client.AssumeRole(context.Background(), &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("assuming role %q: %w", roleArn, err)
	}
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		*out.Credentials.AccessKeyId,
		*out.Credentials.SecretAccessKey,
		*out.Credentials.SessionToken,
	)
	return nil
}

// ParseRecipients splits a comma-separated list of ARNs, each optionally
// carrying a role glued with "+" (e.g.
// "arn:...key/abc+arn:aws:iam::...:role/foo"), into Recipients.
func ParseRecipients(arns string) []keyring.Recipient {
	var out []keyring.Recipient
	if arns == "" {
		return out
	}
	for _, raw := range strings.Split(arns, ",") {
		raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
		r := keyring.Recipient{Kind: Kind, Extra: map[string]string{}}
		if idx := strings.Index(raw, "+arn:aws:iam::"); idx > 0 {
			r.ID = raw[:idx]
			r.Extra["role"] = raw[idx+1:]
		} else {
			r.ID = raw
		}
		out = append(out, r)
	}
	return out
}

// NeedsRotationTTL is the advisory staleness window for KMS entries, suitable
// as the ttl argument of keyring.StaleRecipients.
const NeedsRotationTTL = time.Hour * 24 * 30 * 6
