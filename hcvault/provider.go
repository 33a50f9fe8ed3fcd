// Package hcvault implements a keyring.Provider that wraps and unwraps
// ksec data keys through a HashiCorp Vault Transit secrets engine.
package hcvault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ksecio/ksec/keyring"
	"github.com/ksecio/ksec/logging"
)

var log = logging.NewLogger("VAULT_TRANSIT")

// Kind is the recipient discriminator this provider owns.
const Kind = "hcvault"

// NeedsRotationTTL is the advisory staleness window for Vault entries.
const NeedsRotationTTL = time.Hour * 24 * 30 * 6

// defaultTokenFile is the name of the file in the user's home directory
// where a Vault token is expected to be stored.
const defaultTokenFile = ".vault-token"

var uriPath = regexp.MustCompile(`/v[\d]+/[^/]+/[^/]+/[^/]+`)
var prefixedPath = regexp.MustCompile(`/[^/]+/v[\d]+/[^/]+/[^/]+/[^/]+`)

// Provider wraps/unwraps data keys through Vault Transit. Token overrides
// the token used to authenticate, falling back to the client's default
// configuration and then to $HOME/.vault-token.
type Provider struct {
	Token string
}

// New returns a Vault Transit-backed keyring.Provider.
func New() *Provider { return &Provider{} }

func (p *Provider) Kind() string { return Kind }

func (p *Provider) Recognizes(r keyring.Recipient) bool {
	if r.Kind != Kind || r.ID == "" || r.Extra["key_name"] == "" {
		return false
	}
	_, err := url.Parse(r.ID)
	return err == nil
}

// Wrap encrypts dataKey at the Transit key named by r's address, engine
// path, and key name.
func (p *Provider) Wrap(r keyring.Recipient, dataKey []byte) (string, error) {
	fullPath := path.Join(r.Extra["engine_path"], "encrypt", r.Extra["key_name"])

	client, err := p.client(r.ID)
	if err != nil {
		log.WithField("path", fullPath).Info("encryption failed")
		return "", err
	}

	secret, err := client.Logical().Write(fullPath, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(dataKey),
	})
	if err != nil {
		log.WithField("path", fullPath).Info("encryption failed")
		return "", fmt.Errorf("encrypting data key with Vault transit backend %q: %w", fullPath, err)
	}
	enc, err := stringField(secret, "ciphertext")
	if err != nil {
		log.WithField("path", fullPath).Info("encryption failed")
		return "", fmt.Errorf("encrypting data key with Vault transit backend %q: %w", fullPath, err)
	}
	log.WithField("path", fullPath).Info("encryption succeeded")
	return enc, nil
}

// Unwrap decrypts r.Enc at the Transit key named by r's address, engine
// path, and key name.
func (p *Provider) Unwrap(r keyring.Recipient) ([]byte, error) {
	fullPath := path.Join(r.Extra["engine_path"], "decrypt", r.Extra["key_name"])

	client, err := p.client(r.ID)
	if err != nil {
		log.WithField("path", fullPath).Info("decryption failed")
		return nil, err
	}

	secret, err := client.Logical().Write(fullPath, map[string]interface{}{
		"ciphertext": r.Enc,
	})
	if err != nil {
		log.WithField("path", fullPath).Info("decryption failed")
		return nil, fmt.Errorf("decrypting data key from Vault transit backend %q: %w", fullPath, err)
	}
	plaintext, err := stringField(secret, "plaintext")
	if err != nil {
		log.WithField("path", fullPath).Info("decryption failed")
		return nil, fmt.Errorf("decrypting data key from Vault transit backend %q: %w", fullPath, err)
	}
	dataKey, err := base64.StdEncoding.DecodeString(plaintext)
	if err != nil {
		log.WithField("path", fullPath).Info("decryption failed")
		return nil, fmt.Errorf("base64-decoding decrypted data key: %w", err)
	}
	log.WithField("path", fullPath).Info("decryption succeeded")
	return dataKey, nil
}

func stringField(secret *api.Secret, field string) (string, error) {
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("transit backend response is empty")
	}
	v, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("transit backend response has no %q field", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("transit backend %q field is not a string", field)
	}
	return s, nil
}

func (p *Provider) client(address string) (*api.Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}

	if p.Token != "" {
		client.SetToken(p.Token)
	}
	if client.Token() == "" {
		token, err := userVaultToken()
		if err != nil {
			return nil, fmt.Errorf("reading user Vault token: %w", err)
		}
		if token != "" {
			client.SetToken(token)
		}
	}
	return client, nil
}

func userVaultToken() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining user home directory: %w", err)
	}
	f, err := os.Open(filepath.Join(home, defaultTokenFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// parseURI splits a full Vault transit key URI into its server address,
// engine path, and key name, e.g.
// "https://vault.example.com:8200/v1/transit/keys/my-key" ->
// ("https://vault.example.com:8200", "transit", "my-key").
func parseURI(uri string) (address, enginePath, keyName string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("parsing Vault key URI: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", "", fmt.Errorf("missing scheme in Vault key URI %q (expected e.g. https://vault.example.com:8200/v1/transit/keys/my-key)", uri)
	}

	fullPath := u.RequestURI()
	if prefixedPath.MatchString(fullPath) {
		return "", "", "", fmt.Errorf("running Vault behind a prefixed URL is not supported (expected e.g. https://vault.example.com:8200/v1/transit/keys/my-key)")
	}
	if !uriPath.MatchString(fullPath) {
		return "", "", "", fmt.Errorf("Vault key URI %q is not formatted correctly (expected e.g. https://vault.example.com:8200/v1/transit/keys/my-key)", uri)
	}

	dirs := strings.Split(strings.Trim(fullPath, "/"), "/")
	keyName = dirs[len(dirs)-1]
	enginePath = path.Join(dirs[1 : len(dirs)-2]...)
	u.Path = ""
	return u.String(), enginePath, keyName, nil
}

// ParseRecipients splits a comma-separated list of full Vault transit key
// URIs (e.g. "https://vault.example.com:8200/v1/transit/keys/my-key") into
// Recipients, each carrying its address as ID and its engine path and key
// name under Extra.
func ParseRecipients(uris string) ([]keyring.Recipient, error) {
	var out []keyring.Recipient
	if uris == "" {
		return out, nil
	}
	for _, uri := range strings.Split(uris, ",") {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		address, enginePath, keyName, err := parseURI(uri)
		if err != nil {
			return nil, err
		}
		out = append(out, keyring.Recipient{
			Kind:  Kind,
			ID:    address,
			Extra: map[string]string{"engine_path": enginePath, "key_name": keyName},
		})
	}
	return out, nil
}
