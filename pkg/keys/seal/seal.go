// Package seal encrypts vendor credentials at rest with age x25519.
//
// Sealed values are base64-encoded age ciphertext, suitable for a TEXT
// column. The identity (AGE-SECRET-KEY-1...) comes from configuration; when
// none is configured an ephemeral identity is generated, in which case sealed
// values do not survive a restart.
package seal

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Sealer seals and opens secrets with one x25519 identity.
type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
	ephemeral bool
}

// New parses an AGE-SECRET-KEY-1 identity string.
func New(identity string) (*Sealer, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return &Sealer{identity: id, recipient: id.Recipient()}, nil
}

// FromFile reads the first x25519 identity from an age identity file, as
// written by age-keygen. Comment lines are ignored.
func FromFile(path string) (*Sealer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return &Sealer{identity: x, recipient: x.Recipient()}, nil
		}
	}
	return nil, fmt.Errorf("identity file %s: no x25519 identity", path)
}

// Ephemeral generates a fresh identity held only in memory.
func Ephemeral() (*Sealer, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return &Sealer{identity: id, recipient: id.Recipient(), ephemeral: true}, nil
}

// Ephemeral reports whether the identity was generated at startup.
func (s *Sealer) Ephemeral() bool { return s.ephemeral }

// Recipient returns the public age1... recipient string.
func (s *Sealer) Recipient() string { return s.recipient.String() }

// Seal encrypts plaintext and returns base64 ciphertext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("refusing to seal an empty secret")
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts base64 ciphertext produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed secret: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting sealed secret: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted secret: %w", err)
	}
	return string(plaintext), nil
}
