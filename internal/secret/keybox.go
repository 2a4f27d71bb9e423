package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/see4tech/oauth-service/internal/domain"
)

// Box seals and opens token payloads with a symmetric key loaded from disk.
// Wrong-key or tampered ciphertext fails closed with ErrCiphertextInvalid.
type Box struct {
	key []byte
}

// LoadOrCreateKey loads the encryption key from path, generating and
// persisting a new one on first run. The key file is owner read/write only.
// An existing but unreadable or malformed key file is fatal: regenerating
// over it would silently orphan every stored token.
func LoadOrCreateKey(path string) (*Box, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("key path empty: %w", domain.ErrEncryptionKeyUnavailable)
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, decodeErr := decodeKey(raw)
		if decodeErr != nil {
			return nil, fmt.Errorf("key file %s: %v: %w", path, decodeErr, domain.ErrEncryptionKeyUnavailable)
		}
		return &Box{key: key}, nil
	case os.IsNotExist(err):
		return createKey(path)
	default:
		return nil, fmt.Errorf("read key file %s: %v: %w", path, err, domain.ErrEncryptionKeyUnavailable)
	}
}

func createKey(path string) (*Box, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %v: %w", err, domain.ErrEncryptionKeyUnavailable)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %v: %w", err, domain.ErrEncryptionKeyUnavailable)
		}
	}

	encoded := base64.RawURLEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("persist key file %s: %v: %w", path, err, domain.ErrEncryptionKeyUnavailable)
	}
	return &Box{key: key}, nil
}

func decodeKey(raw []byte) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key length %d, want %d", len(key), chacha20poly1305.KeySize)
	}
	return key, nil
}

// NewBox wraps an in-memory key. Used by tests; production loads from disk.
func NewBox(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key length %d, want %d: %w", len(key), chacha20poly1305.KeySize, domain.ErrEncryptionKeyUnavailable)
	}
	b := &Box{key: make([]byte, len(key))}
	copy(b.key, key)
	return b, nil
}

// Seal encrypts plaintext and returns a base64 token safe for text columns.
func (b *Box) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (b *Box) Open(encoded string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", domain.ErrCiphertextInvalid)
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: %w", domain.ErrCiphertextInvalid)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", domain.ErrCiphertextInvalid)
	}
	return plaintext, nil
}
