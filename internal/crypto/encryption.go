// Package crypto provides the symmetric and signing primitives for holdfast.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of a node secret key.
const KeySize = chacha20poly1305.KeySize

// ErrAuthentication is returned by Decrypt when the ciphertext fails
// integrity verification: tampered data or the wrong key. Decrypt never
// returns plaintext in that case.
var ErrAuthentication = errors.New("crypto: authentication failed")

// GenerateKey generates a new random symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under key. The random
// 24-byte nonce is prepended to the returned ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. It returns
// ErrAuthentication when the data has been tampered with or the key is
// wrong.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrAuthentication
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}

	return plaintext, nil
}
