package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Stored secrets carry this prefix so the store can tell ciphertext from
// values written before encryption existed.
const encPrefix = "enc:"

const keyFileName = "secret.key"

// SecretKey seals and opens API secrets with AES-256-GCM. The AEAD is built
// once at construction; Encrypt and Decrypt are safe for concurrent use.
type SecretKey struct {
	aead cipher.AEAD
}

// NewSecretKey resolves the master key and prepares the cipher. Resolution
// order: SWITCHBOARD_SECRET_KEY from the environment (hashed to 256 bits),
// then a key file under ~/.switchboard, generated on first run.
func NewSecretKey() (*SecretKey, error) {
	key := keyFromEnv()
	if key == nil {
		var err error
		key, err = keyFromFile()
		if err != nil {
			return nil, err
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}
	return &SecretKey{aead: aead}, nil
}

func keyFromEnv() []byte {
	raw := os.Getenv("SWITCHBOARD_SECRET_KEY")
	if raw == "" {
		return nil
	}
	h := sha256.Sum256([]byte(raw))
	return h[:]
}

func keyFromFile() ([]byte, error) {
	path := filepath.Join(homeDir(), ".switchboard", keyFileName)
	if data, err := os.ReadFile(path); err == nil && len(data) >= 32 {
		return data[:32], nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("persist secret key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and returns it base64-encoded under the "enc:"
// prefix. Empty input stays empty so unset secrets round-trip as unset.
func (s *SecretKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an "enc:"-prefixed value. Anything without the prefix is
// passed through unchanged.
func (s *SecretKey) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < s.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// MaskSecret returns a display-safe form of a secret: "****" plus the last
// four characters, or just "****" when the secret is too short to show any.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return "/tmp"
}
