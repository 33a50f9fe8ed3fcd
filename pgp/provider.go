// Package pgp implements a keyring.Provider that wraps and unwraps ksec
// data keys with OpenPGP, first trying the github.com/ProtonMail/go-crypto
// library and falling back to shelling out to the local "gpg" binary.
package pgp

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	gpgagent "github.com/getsops/gopgagent"
	"golang.org/x/term"

	"github.com/ksecio/ksec/keyring"
	"github.com/ksecio/ksec/logging"
)

var log = logging.NewLogger("PGP")

// Kind is the recipient discriminator this provider owns.
const Kind = "pgp"

// GPGExecEnv overrides the GnuPG binary invoked.
const GPGExecEnv = "KSEC_GPG_EXEC"

// NeedsRotationTTL is the advisory staleness window for PGP entries.
const NeedsRotationTTL = time.Hour * 24 * 30 * 6

// Provider wraps/unwraps data keys with OpenPGP or, failing that, GnuPG.
type Provider struct {
	// GnuPGHome, when set, is passed to gpg as --homedir and used to locate
	// the OpenPGP pubring/secring fallback.
	GnuPGHome string
	// DisableOpenPGP skips the in-process OpenPGP attempt entirely.
	DisableOpenPGP bool
}

// New returns a GnuPG-home-default PGP provider.
func New() *Provider { return &Provider{} }

func (p *Provider) Kind() string { return Kind }

const fingerprintLen = 40

func (p *Provider) Recognizes(r keyring.Recipient) bool {
	fp := strings.ToUpper(r.ID)
	if len(fp) != fingerprintLen {
		return false
	}
	for _, c := range fp {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// Wrap encrypts dataKey to the PGP key with fingerprint r.ID, returning the
// ASCII-armored message.
func (p *Provider) Wrap(r keyring.Recipient, dataKey []byte) (string, error) {
	var failures []error

	if !p.DisableOpenPGP {
		enc, err := p.encryptWithOpenPGP(r.ID, dataKey)
		if err == nil {
			log.WithField("fingerprint", r.ID).Info("encryption succeeded")
			return enc, nil
		}
		failures = append(failures, fmt.Errorf("openpgp: %w", err))
	}

	enc, err := p.encryptWithGnuPG(r.ID, dataKey)
	if err == nil {
		log.WithField("fingerprint", r.ID).Info("encryption succeeded")
		return enc, nil
	}
	failures = append(failures, fmt.Errorf("gnupg: %w", err))

	log.WithField("fingerprint", r.ID).Info("encryption failed")
	return "", fmt.Errorf("could not encrypt data key with PGP key %s: %w", r.ID, joinErrs(failures))
}

// Unwrap decrypts r.Enc, first with OpenPGP then with GnuPG.
func (p *Provider) Unwrap(r keyring.Recipient) ([]byte, error) {
	var failures []error

	if !p.DisableOpenPGP {
		dataKey, err := p.decryptWithOpenPGP(r.Enc)
		if err == nil {
			log.WithField("fingerprint", r.ID).Info("decryption succeeded")
			return dataKey, nil
		}
		failures = append(failures, fmt.Errorf("openpgp: %w", err))
	}

	dataKey, err := p.decryptWithGnuPG(r.Enc)
	if err == nil {
		log.WithField("fingerprint", r.ID).Info("decryption succeeded")
		return dataKey, nil
	}
	failures = append(failures, fmt.Errorf("gnupg: %w", err))

	log.WithField("fingerprint", r.ID).Info("decryption failed")
	return nil, fmt.Errorf("could not decrypt data key with PGP key %s: %w", r.ID, joinErrs(failures))
}

func joinErrs(errs []error) error {
	strs := make([]string, len(errs))
	for i, e := range errs {
		strs[i] = e.Error()
	}
	return errors.New(strings.Join(strs, "; "))
}

func (p *Provider) encryptWithOpenPGP(fingerprint string, dataKey []byte) (string, error) {
	entity, err := p.retrievePubKey(fingerprint)
	if err != nil {
		return "", err
	}

	encBuf := new(bytes.Buffer)
	armorBuf, err := armor.Encode(encBuf, "PGP MESSAGE", nil)
	if err != nil {
		return "", err
	}
	plainBuf, err := openpgp.Encrypt(armorBuf, []*openpgp.Entity{&entity}, nil, &openpgp.FileHints{IsBinary: true}, nil)
	if err != nil {
		return "", err
	}
	if _, err := plainBuf.Write(dataKey); err != nil {
		return "", err
	}
	if err := plainBuf.Close(); err != nil {
		return "", err
	}
	if err := armorBuf.Close(); err != nil {
		return "", err
	}
	b, err := io.ReadAll(encBuf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Provider) encryptWithGnuPG(fingerprint string, dataKey []byte) (string, error) {
	args := []string{
		"--no-default-recipient",
		"--yes",
		"--encrypt",
		"-a",
		"-r",
		fingerprint,
		"--trusted-key",
		shortenFingerprint(fingerprint),
		"--no-encrypt-to",
	}
	stdout, stderr, err := gpgExec(p.GnuPGHome, args, bytes.NewReader(dataKey))
	if err != nil {
		return "", fmt.Errorf("gpg encrypt failed: %s", strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (p *Provider) decryptWithOpenPGP(encryptedKey string) ([]byte, error) {
	ring, err := p.getSecRing()
	if err != nil {
		return nil, fmt.Errorf("loading secring: %w", err)
	}
	block, err := armor.Decode(strings.NewReader(encryptedKey))
	if err != nil {
		return nil, fmt.Errorf("armor decoding: %w", err)
	}
	md, err := openpgp.ReadMessage(block.Body, ring, passphrasePrompt(), nil)
	if err != nil {
		return nil, fmt.Errorf("reading PGP message: %w", err)
	}
	return io.ReadAll(md.UnverifiedBody)
}

func (p *Provider) decryptWithGnuPG(encryptedKey string) ([]byte, error) {
	stdout, stderr, err := gpgExec(p.GnuPGHome, []string{"-d"}, strings.NewReader(encryptedKey))
	if err != nil {
		return nil, fmt.Errorf("gpg decrypt failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (p *Provider) retrievePubKey(fingerprint string) (openpgp.Entity, error) {
	ring, err := p.getPubRing()
	if err == nil {
		if entity, ok := fingerprintIndex(ring)[strings.ToUpper(fingerprint)]; ok {
			return entity, nil
		}
	}
	return openpgp.Entity{}, fmt.Errorf("key with fingerprint %q is not available in keyring", fingerprint)
}

func (p *Provider) getPubRing() (openpgp.EntityList, error) {
	return loadRing(filepath.Join(p.gnuPGHome(), "pubring.gpg"))
}

func (p *Provider) getSecRing() (openpgp.EntityList, error) {
	path := filepath.Join(p.gnuPGHome(), "secring.gpg")
	if _, err := os.Lstat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return p.getPubRing()
	}
	return loadRing(path)
}

func (p *Provider) gnuPGHome() string {
	if p.GnuPGHome != "" {
		return p.GnuPGHome
	}
	if dir := os.Getenv("GNUPGHOME"); dir != "" {
		return dir
	}
	if usr, err := user.Current(); err == nil {
		return filepath.Join(usr.HomeDir, ".gnupg")
	}
	return filepath.Join(os.Getenv("HOME"), ".gnupg")
}

// passphrasePrompt prompts for a PGP key's passphrase, preferring
// gpg-agent's cache over a manual terminal prompt.
func passphrasePrompt() func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
	calls := 0
	const maxCalls = 3
	return func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if calls >= maxCalls {
			return nil, fmt.Errorf("passphrase prompt invoked too many times")
		}
		calls++

		conn, err := gpgagent.NewConn()
		if err == gpgagent.ErrNoAgent {
			fmt.Print("Enter PGP key passphrase: ")
			pass, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return nil, err
			}
			for _, k := range keys {
				k.PrivateKey.Decrypt(pass)
			}
			return pass, nil
		}
		if err != nil {
			return nil, fmt.Errorf("connecting to gpg-agent: %w", err)
		}
		defer conn.Close()

		for _, k := range keys {
			req := gpgagent.PassphraseRequest{
				CacheKey: k.PublicKey.KeyIdShortString(),
				Prompt:   "Passphrase",
				Desc:     fmt.Sprintf("Unlock key %s to decrypt ksec's data key", k.PublicKey.KeyIdShortString()),
			}
			pass, err := conn.GetPassphrase(&req)
			if err != nil {
				return nil, fmt.Errorf("gpg-agent passphrase request: %w", err)
			}
			k.PrivateKey.Decrypt([]byte(pass))
			return []byte(pass), nil
		}
		return nil, fmt.Errorf("no key to unlock")
	}
}

func loadRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return openpgp.ReadKeyRing(f)
}

func fingerprintIndex(ring openpgp.EntityList) map[string]openpgp.Entity {
	fps := make(map[string]openpgp.Entity)
	for _, entity := range ring {
		if entity != nil {
			fps[strings.ToUpper(hex.EncodeToString(entity.PrimaryKey.Fingerprint[:]))] = *entity
		}
	}
	return fps
}

func gpgExec(homeDir string, args []string, stdin io.Reader) (stdout, stderr bytes.Buffer, err error) {
	if homeDir != "" {
		args = append([]string{"--homedir", homeDir}, args...)
	}
	cmd := exec.Command(gpgBinary(), args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	return
}

func gpgBinary() string {
	if bin := os.Getenv(GPGExecEnv); bin != "" {
		return bin
	}
	return "gpg"
}

// shortenFingerprint returns the last 16 hex characters of fingerprint,
// used as GnuPG's --trusted-key argument.
func shortenFingerprint(fingerprint string) string {
	if offset := len(fingerprint) - 16; offset > 0 {
		return fingerprint[offset:]
	}
	return fingerprint
}

// ParseRecipients splits a comma-separated list of 40-hex-character PGP
// fingerprints into Recipients.
func ParseRecipients(fingerprints string) []keyring.Recipient {
	var out []keyring.Recipient
	if fingerprints == "" {
		return out
	}
	for _, fp := range strings.Split(fingerprints, ",") {
		out = append(out, keyring.Recipient{
			Kind: Kind,
			ID:   strings.ReplaceAll(strings.TrimSpace(fp), " ", ""),
		})
	}
	return out
}
