// Package age implements a keyring.Provider that wraps and unwraps ksec
// data keys using filippo.io/age, accepting both native X25519 recipients
// and age-over-SSH recipients, with identities loaded from the runtime
// environment.
package age

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"filippo.io/age/armor"
	"github.com/google/shlex"

	"github.com/ksecio/ksec/keyring"
	"github.com/ksecio/ksec/logging"
)

var log = logging.NewLogger("AGE")

// Kind is the recipient discriminator this provider owns.
const Kind = "age"

const (
	// KeyEnv holds a newline-separated list of age identities.
	KeyEnv = "KSEC_AGE_KEY"
	// KeyFileEnv points to a file of age identities.
	KeyFileEnv = "KSEC_AGE_KEY_FILE"
	// KeyCmdEnv names a command whose stdout is a list of age identities.
	KeyCmdEnv = "KSEC_AGE_KEY_CMD"
	// SSHPrivateKeyFileEnv points to an SSH private key usable as an age
	// identity.
	SSHPrivateKeyFileEnv = "KSEC_AGE_SSH_PRIVATE_KEY_FILE"
	// userConfigPath is appended to the OS user config directory when no
	// other identity source is configured.
	userConfigPath = "ksec/age/keys.txt"
	xdgConfigHome  = "XDG_CONFIG_HOME"
)

// Provider wraps/unwraps data keys with age, loading identities lazily
// from the environment on first Unwrap.
type Provider struct {
	identities []age.Identity
}

// New returns an age-backed keyring.Provider.
func New() *Provider { return &Provider{} }

func (p *Provider) Kind() string { return Kind }

func (p *Provider) Recognizes(r keyring.Recipient) bool {
	return r.Kind == Kind && (strings.HasPrefix(r.ID, "age1") || strings.HasPrefix(r.ID, "ssh-"))
}

// Wrap encrypts dataKey to the age or age-ssh recipient r.ID, returning the
// ASCII-armored ciphertext.
func (p *Provider) Wrap(r keyring.Recipient, dataKey []byte) (string, error) {
	recipient, err := parseRecipient(r.ID)
	if err != nil {
		log.WithField("recipient", r.ID).WithError(err).Info("encryption failed")
		return "", err
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		log.WithField("recipient", r.ID).Info("encryption failed")
		return "", fmt.Errorf("creating age writer: %w", err)
	}
	if _, err := w.Write(dataKey); err != nil {
		log.WithField("recipient", r.ID).Info("encryption failed")
		return "", fmt.Errorf("encrypting data key with age: %w", err)
	}
	if err := w.Close(); err != nil {
		log.WithField("recipient", r.ID).Info("encryption failed")
		return "", fmt.Errorf("closing age writer: %w", err)
	}
	if err := aw.Close(); err != nil {
		log.WithField("recipient", r.ID).Info("encryption failed")
		return "", fmt.Errorf("closing armor writer: %w", err)
	}
	log.WithField("recipient", r.ID).Info("encryption succeeded")
	return buf.String(), nil
}

// Unwrap decrypts r.Enc against every identity this provider can locate in
// the environment.
func (p *Provider) Unwrap(r keyring.Recipient) ([]byte, error) {
	if len(p.identities) == 0 {
		ids, err := loadIdentities()
		if err != nil {
			log.Info("decryption failed")
			return nil, fmt.Errorf("loading age identities: %w", err)
		}
		p.identities = ids
	}

	ar := armor.NewReader(strings.NewReader(r.Enc))
	dr, err := age.Decrypt(ar, p.identities...)
	if err != nil {
		log.Info("decryption failed")
		return nil, fmt.Errorf("creating age reader: %w", err)
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, dr); err != nil {
		log.Info("decryption failed")
		return nil, fmt.Errorf("reading age-decrypted data key: %w", err)
	}
	log.Info("decryption succeeded")
	return out.Bytes(), nil
}

// ParseRecipients splits a comma-separated list of Bech32 age or age-ssh
// recipient strings into Recipients.
func ParseRecipients(recipients string) []keyring.Recipient {
	var out []keyring.Recipient
	if recipients == "" {
		return out
	}
	for _, r := range strings.Split(recipients, ",") {
		out = append(out, keyring.Recipient{Kind: Kind, ID: strings.TrimSpace(r)})
	}
	return out
}

func parseRecipient(recipient string) (age.Recipient, error) {
	switch {
	case strings.HasPrefix(recipient, "age1"):
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("parsing Bech32-encoded age public key: %w", err)
		}
		return r, nil
	case strings.HasPrefix(recipient, "ssh-"):
		r, err := agessh.ParseRecipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("parsing age-ssh public key: %w", err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown age recipient type: %q", recipient)
}

func parseIdentity(s string) (age.Identity, error) {
	if strings.HasPrefix(s, "AGE-SECRET-KEY-1") {
		return age.ParseX25519Identity(s)
	}
	return nil, fmt.Errorf("unknown age identity type")
}

func parseIdentities(r io.Reader) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := parseIdentity(line)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return identities, scanner.Err()
}

func loadAgeSSHIdentity() (age.Identity, error) {
	if path, ok := os.LookupEnv(SSHPrivateKeyFileEnv); ok {
		return parseSSHIdentityFromFile(path)
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		log.Warnf("could not determine the user home directory: %v", err)
		return nil, nil
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return parseSSHIdentityFromFile(path)
		}
	}
	return nil, nil
}

func parseSSHIdentityFromFile(path string) (age.Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading SSH private key %s: %w", path, err)
	}
	id, err := agessh.ParseIdentity(b)
	if err != nil {
		return nil, fmt.Errorf("parsing SSH private key %s as an age identity: %w", path, err)
	}
	return id, nil
}

func userConfigDir() (string, error) {
	if runtime.GOOS == "darwin" {
		if dir, ok := os.LookupEnv(xdgConfigHome); ok && dir != "" {
			return dir, nil
		}
	}
	return os.UserConfigDir()
}

// loadIdentities gathers age identities from every configured source: an
// SSH key, KeyEnv, KeyFileEnv, KeyCmdEnv, and finally the default keys file
// under the user config directory. At least one source must yield an
// identity.
func loadIdentities() ([]age.Identity, error) {
	var identities []age.Identity

	sshIdentity, err := loadAgeSSHIdentity()
	if err != nil {
		return nil, fmt.Errorf("loading SSH identity: %w", err)
	}
	if sshIdentity != nil {
		identities = append(identities, sshIdentity)
	}

	type source struct {
		name string
		r    io.Reader
	}
	var readers []source

	if key, ok := os.LookupEnv(KeyEnv); ok {
		readers = append(readers, source{KeyEnv, strings.NewReader(key)})
	}
	if path, ok := os.LookupEnv(KeyFileEnv); ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s file: %w", KeyFileEnv, err)
		}
		defer f.Close()
		readers = append(readers, source{KeyFileEnv, f})
	}
	if cmd, ok := os.LookupEnv(KeyCmdEnv); ok {
		args, err := shlex.Split(cmd)
		if err != nil {
			return nil, fmt.Errorf("parsing command %q from %s: %w", cmd, KeyCmdEnv, err)
		}
		out, err := exec.Command(args[0], args[1:]...).Output()
		if err != nil {
			return nil, fmt.Errorf("executing command %q from %s: %w", cmd, KeyCmdEnv, err)
		}
		readers = append(readers, source{KeyCmdEnv, bytes.NewReader(out)})
	}

	dir, err := userConfigDir()
	if err != nil && len(readers) == 0 && len(identities) == 0 {
		return nil, fmt.Errorf("determining user config directory: %w", err)
	}
	if dir != "" {
		path := filepath.Join(dir, filepath.FromSlash(userConfigPath))
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			readers = append(readers, source{path, f})
		case errors.Is(err, os.ErrNotExist) && (len(readers) > 0 || len(identities) > 0):
			// Fine, some other source already supplied an identity.
		case err != nil:
			return nil, fmt.Errorf("opening default age keys file: %w", err)
		}
	}

	for _, src := range readers {
		ids, err := parseIdentities(src.r)
		if err != nil {
			return nil, fmt.Errorf("parsing identities from %s: %w", src.name, err)
		}
		identities = append(identities, ids...)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no age identities found in the environment")
	}
	return identities, nil
}
