package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuemby/paddock/pkg/errdefs"
	"golang.org/x/crypto/hkdf"
)

// DefaultKeyEnv lists the environment variables consulted for the
// application key, in priority order
var DefaultKeyEnv = []string{"PADDOCK_APP_KEY", "APP_KEY", "PADDOCK_ENCRYPTION_KEY"}

const keyInfo = "paddock node daemon token"

// TokenCodec encrypts and decrypts node daemon secrets at rest
type TokenCodec struct {
	encryptionKey []byte // 32 bytes for AES-256, nil when no key is configured
}

// NewTokenCodec creates a codec from a raw application key. Keys prefixed
// with "base64:" are decoded first. Whatever the input length, the AES key
// is derived with HKDF-SHA256. An empty key yields an unconfigured codec
// whose Encrypt and Decrypt fail with a configuration error.
func NewTokenCodec(rawKey string) (*TokenCodec, error) {
	if rawKey == "" {
		return &TokenCodec{}, nil
	}

	material := []byte(rawKey)
	if strings.HasPrefix(rawKey, "base64:") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(rawKey, "base64:"))
		if err != nil {
			return nil, errdefs.Configuration("application key is not valid base64: %v", err)
		}
		material = decoded
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return &TokenCodec{encryptionKey: key}, nil
}

// KeyFromEnv returns the first non-empty value among the named variables
func KeyFromEnv(names ...string) string {
	if len(names) == 0 {
		names = DefaultKeyEnv
	}
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// NewTokenCodecFromEnv creates a codec from the first configured key variable
func NewTokenCodecFromEnv(names ...string) (*TokenCodec, error) {
	return NewTokenCodec(KeyFromEnv(names...))
}

// Configured reports whether an application key is present
func (c *TokenCodec) Configured() bool {
	return len(c.encryptionKey) == 32
}

func (c *TokenCodec) gcm() (cipher.AEAD, error) {
	if !c.Configured() {
		return nil, errdefs.Configuration("no application key configured (set one of %s)", strings.Join(DefaultKeyEnv, ", "))
	}

	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts secret with AES-256-GCM and returns base64 of nonce||ciphertext
func (c *TokenCodec) Encrypt(secret string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", errdefs.InvalidArgument("cannot encrypt empty secret")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (c *TokenCodec) Decrypt(ciphertext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
