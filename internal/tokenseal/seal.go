package tokenseal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const prefix = "v1:"

var ErrMalformed = errors.New("sealed token malformed")

// Sealer encrypts provider tokens before they hit the database. A nil key
// makes it a pass-through, which is only meant for local development.
type Sealer struct {
	key []byte
}

// New takes a base64 encoded 32 byte key. Empty input yields a pass-through sealer.
func New(keyBase64 string) (*Sealer, error) {
	keyBase64 = strings.TrimSpace(keyBase64)
	if keyBase64 == "" {
		return &Sealer{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Sealer{key: key}, nil
}

func (s *Sealer) Enabled() bool { return s != nil && len(s.key) > 0 }

func (s *Sealer) Seal(plain string) (string, error) {
	if !s.Enabled() || plain == "" {
		return plain, nil
	}
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plain), nil)
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the version prefix are returned as is so
// rows written before a key was configured stay readable.
func (s *Sealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefix) {
		return sealed, nil
	}
	if !s.Enabled() {
		return "", fmt.Errorf("token is sealed but no key is configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
