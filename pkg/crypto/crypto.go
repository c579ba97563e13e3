// Package crypto provides the cryptographic primitives used to unlock a
// keylight vault.
//
// This package implements XChaCha20-Poly1305 authenticated encryption and
// Argon2id key derivation following OWASP recommendations.
//
// # Security Features
//
//   - XChaCha20-Poly1305 authenticated encryption with 192-bit random nonces
//   - Argon2id key derivation (64MB memory, 3 iterations, 4 threads)
//   - Argon2id verification hash of the derived key in PHC string format
//   - One derivation at a time per Deriver, on a dedicated worker goroutine
//   - Decrypted plaintext returned in a wipeable secure.Buffer
//
// # Example Usage
//
//	d, _ := crypto.NewDeriver(crypto.DefaultParams())
//	salt, _ := crypto.NewSalt()
//
//	// Derive a key from password
//	key, err := d.DeriveKey(ctx, password, salt)
//	defer key.Wipe()
//
//	// Encrypt data
//	ciphertext, nonce, err := crypto.Encrypt(key.Bytes(), plaintext)
//
//	// Decrypt data
//	plaintext, err := crypto.Decrypt(key.Bytes(), ciphertext, nonce)
//	defer plaintext.Wipe()
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/forest6511/keylight/pkg/secure"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = chacha20poly1305.KeySize

	// NonceLength is the length of XChaCha20-Poly1305 nonces in bytes (192 bits).
	NonceLength = chacha20poly1305.NonceSizeX

	// TagLength is the length of the Poly1305 authentication tag in bytes.
	TagLength = chacha20poly1305.Overhead
)

// Nonce is a single-use XChaCha20-Poly1305 nonce.
type Nonce [NonceLength]byte

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the Poly1305 tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// Encrypt encrypts plaintext using XChaCha20-Poly1305.
//
// A fresh 24-byte nonce is drawn from crypto/rand on every call; callers
// cannot supply one. The authentication tag is appended to the ciphertext.
//
// Returns:
//   - ciphertext: encrypted data with authentication tag
//   - nonce: must be stored with ciphertext for decryption
//   - err: ErrInvalidKeyLength if key is not 32 bytes
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce Nonce, err error) {
	if len(key) != KeyLength {
		return nil, nonce, ErrInvalidKeyLength
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nonce, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, Nonce{}, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce[:], plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
//
// The tag is verified before any plaintext is released. On failure no
// partial plaintext is returned. The caller owns the returned buffer and must
// wipe it.
//
// Returns ErrInvalidKeyLength, ErrCiphertextTooShort or ErrDecryptionFailed.
func Decrypt(key, ciphertext []byte, nonce Nonce) (*secure.Buffer, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(ciphertext) < TagLength {
		return nil, ErrCiphertextTooShort
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return secure.From(plaintext), nil
}

// Envelope exposes Encrypt and Decrypt as a value, for callers that take the
// cipher as a dependency.
type Envelope struct{}

// Seal encrypts plaintext under key with a fresh nonce.
func (Envelope) Seal(key, plaintext []byte) (Nonce, []byte, error) {
	ct, nonce, err := Encrypt(key, plaintext)
	return nonce, ct, err
}

// Open decrypts ciphertext under key.
func (Envelope) Open(key []byte, nonce Nonce, ciphertext []byte) (*secure.Buffer, error) {
	return Decrypt(key, ciphertext, nonce)
}
