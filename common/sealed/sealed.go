// Package sealed encrypts CI API tokens at rest with an age X25519 identity.
//
// Ciphertext is base64-encoded so it fits a TEXT column. The same identity both
// seals (to its own recipient) and opens tokens; rotate it by re-running /login.
package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// ErrUnusable is returned when a stored ciphertext cannot be opened: wrong key,
// corrupted row, or a value written by something else. Callers treat it as
// "credentials must be re-entered", never as fatal.
var ErrUnusable = errors.New("sealed value unusable")

type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// New parses an AGE-SECRET-KEY-1... identity.
func New(identity string) (*Sealer, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parsing credential key: %w", err)
	}
	return &Sealer{identity: id, recipient: id.Recipient()}, nil
}

// GenerateKey returns a fresh identity string and its public recipient.
func GenerateKey() (identity string, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

func (s *Sealer) Encrypt(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Sealer) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrUnusable, err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: reading plaintext: %v", ErrUnusable, err)
	}
	return string(out), nil
}
