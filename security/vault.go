package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the size of the random GCM nonce prepended to every sealed token.
	NonceSize = 12

	// TagSize is the size of the GCM authentication tag.
	TagSize = 16

	// MinSealedSize is the smallest decoded token Open will consider:
	// nonce, tag and at least one byte of ciphertext.
	MinSealedSize = NonceSize + TagSize + 1

	// MinSecretLength is the minimum accepted length of the vault secret.
	MinSecretLength = 32

	// DefaultSalt is the HKDF salt used when none is configured.
	DefaultSalt = "analytics-oauth/session"

	keyInfo = "analytics-oauth session vault v1"
)

// ErrInvalidToken is returned by Open for any token that cannot be authenticated.
// Callers should treat it as "no session" and never try to recover the plaintext.
var ErrInvalidToken = errors.New("invalid sealed token")

// Vault seals short secrets (session identifiers, tokens at rest) with AES-256-GCM.
//
// The key is derived once with HKDF-SHA256 from the configured secret and salt,
// so every component sharing a secret shares the same key. Sealed tokens are
// base64url (no padding) of nonce || tag || ciphertext.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the vault key from secret and salt.
// An empty salt falls back to DefaultSalt.
func NewVault(secret, salt string) (*Vault, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("vault secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if salt == "" {
		salt = DefaultSalt
	}

	key, err := DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// DeriveKey returns the 32-byte AES-256 key for secret and salt.
func DeriveKey(secret, salt string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under a fresh random nonce. Empty plaintext is
// rejected: Open requires at least one ciphertext byte after the nonce and
// tag, so an empty seal could never be opened.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("cannot seal empty plaintext")
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM appends the tag after the ciphertext; move it in front.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, NonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open authenticates and decrypts a token produced by Seal.
// Every failure wraps ErrInvalidToken.
func (v *Vault) Open(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrInvalidToken, err)
	}
	if len(raw) < MinSealedSize {
		return "", fmt.Errorf("%w: too short (%d bytes)", ErrInvalidToken, len(raw))
	}

	nonce := raw[:NonceSize]
	tag := raw[NonceSize : NonceSize+TagSize]
	ciphertext := raw[NonceSize+TagSize:]

	buf := make([]byte, 0, len(ciphertext)+TagSize)
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)

	plaintext, err := v.aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrInvalidToken)
	}

	return string(plaintext), nil
}

// RandomToken returns n random bytes encoded as base64url without padding.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
