// Package crypto implements the optional symmetric body cipher used to
// keep message bodies opaque at rest: a Fernet-equivalent encrypt/decrypt
// pair. When no key is configured, both operations are the identity
// function.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailed is returned when a ciphertext cannot be opened with the
// configured key (wrong key, corrupted payload, or not actually ours).
var ErrDecryptFailed = errors.New("crypto: decryption failed")

// Cipher encrypts and decrypts message bodies. A zero-value Cipher (no
// key configured) is the identity transform, matching the original
// Python gateway's "Invalid Fernet key — encryption disabled" fallback.
type Cipher struct {
	key [32]byte
	on  bool
}

// NewCipher derives a secretbox key from the configured key material. An
// empty key disables encryption entirely.
func NewCipher(key string) *Cipher {
	if key == "" {
		return &Cipher{}
	}
	return &Cipher{key: sha256.Sum256([]byte(key)), on: true}
}

// Encrypt returns ciphertext for plaintext, base64-encoded for safe
// storage as a string field. With no key configured, returns plaintext
// unchanged.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.on {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. With no key configured, returns the input
// unchanged — this is deliberate: decrypt(encrypt(p)) == p must hold
// whether or not a key is configured.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !c.on {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < 24 {
		return "", ErrDecryptFailed
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(opened), nil
}

// Enabled reports whether a key is configured.
func (c *Cipher) Enabled() bool { return c.on }
