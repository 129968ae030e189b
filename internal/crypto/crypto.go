// Package crypto seals saved connection secrets before they reach the
// profile database and opens them again when a profile is loaded.
//
// The profile store passes each password, private key and passphrase through
// Seal on write and Open on read. A sealed value is stored as
//
//	enc:v1:<hex(nonce || AES-256-GCM ciphertext || tag)>
//
// so a column can be told apart from plaintext written by older builds, which
// Open returns unchanged. Empty secrets are never sealed.
//
// The key comes from RLINK_ENCRYPTION_KEY (64 hex chars). Without it a fixed
// development key is used, which only obscures secrets on disk; the CLI warns
// when a secret is saved under it (see UsingDevKey).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	// EnvKey holds the hex-encoded 256-bit key.
	EnvKey = "RLINK_ENCRYPTION_KEY"

	// Prefix marks a value produced by Seal.
	Prefix = "enc:v1:"

	devKey = "72a1f0c4d9e85b3617c2ae04f98d3b6c5e0a7d21b4f6c83e9a05d7b2c1e4f683"
)

var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// aead is resolved from the environment once; a bad key stays an error
// until ResetKey.
var aead struct {
	once sync.Once
	gcm  cipher.AEAD
	err  error
}

func cipherFromEnv() (cipher.AEAD, error) {
	aead.once.Do(func() {
		aead.gcm, aead.err = newCipher(strings.TrimSpace(os.Getenv(EnvKey)))
	})
	return aead.gcm, aead.err
}

func newCipher(hexKey string) (cipher.AEAD, error) {
	if hexKey == "" {
		hexKey = devKey
	}
	k, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid hex key in %s: %w", EnvKey, err)
	}
	if len(k) != 32 {
		return nil, fmt.Errorf("crypto: %s must be 32 bytes (64 hex chars), got %d bytes", EnvKey, len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return cipher.NewGCM(block)
}

// UsingDevKey reports whether secrets are sealed with the built-in key.
func UsingDevKey() bool {
	return strings.TrimSpace(os.Getenv(EnvKey)) == ""
}

// ResetKey drops the cached key so the next call re-reads the environment.
func ResetKey() {
	aead.once = sync.Once{}
	aead.gcm, aead.err = nil, nil
}

// IsSealed reports whether stored carries the Seal prefix.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, Prefix)
}

// Seal returns plaintext encrypted and prefixed for storage. The empty
// string seals to itself.
func Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return Prefix + ct, nil
}

// Open reverses Seal. Values without the prefix are returned as they are.
func Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	return Decrypt(strings.TrimPrefix(stored, Prefix))
}

// Encrypt returns hex(nonce || ciphertext || tag) without the storage prefix.
func Encrypt(plaintext string) (string, error) {
	gcm, err := cipherFromEnv()
	if err != nil {
		return "", err
	}
	out := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return "", fmt.Errorf("crypto: reading nonce: %w", err)
	}
	out = gcm.Seal(out, out, []byte(plaintext), nil)
	return hex.EncodeToString(out), nil
}

// Decrypt opens the output of Encrypt.
func Decrypt(ciphertextHex string) (string, error) {
	gcm, err := cipherFromEnv()
	if err != nil {
		return "", err
	}
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid hex ciphertext: %w", err)
	}
	n := gcm.NonceSize()
	if len(data) < n+gcm.Overhead() {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}
