// Package crypto implements symmetric authenticated encryption for tokens
// at rest, as required by the durable TokenStore backends.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

func newSHA256() hash.Hash { return sha256.New() }

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// Encryptor performs AES-256-GCM authenticated encryption. Each call to
// Encrypt derives a fresh per-record subkey from the master key via HKDF
// (SHA-256), salted with random bytes stored alongside the ciphertext, so
// the same master key never backs the same (key, nonce) pair twice even
// under nonce reuse elsewhere in the process.
type Encryptor struct {
	masterKey [keySize]byte
}

// New creates an Encryptor from a 32-byte master key (AES-256).
func New(masterKey [keySize]byte) *Encryptor {
	return &Encryptor{masterKey: masterKey}
}

// NewFromSlice creates an Encryptor from a 32-byte key slice, returning an
// error if the length is wrong.
func NewFromSlice(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("crypto: master key must be %d bytes, got %d", keySize, len(masterKey))
	}
	var k [keySize]byte
	copy(k[:], masterKey)
	return New(k), nil
}

// Encrypt authenticates aad and encrypts plaintext, returning
// salt || nonce || ciphertext.
func (e *Encryptor) Encrypt(plaintext, aad []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	subkey, err := e.deriveSubkey(salt, aad)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt, validating aad against the stored ciphertext.
func (e *Encryptor) Decrypt(data, aad []byte) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	subkey, err := e.deriveSubkey(salt, aad)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypting: %w", err)
	}
	return plaintext, nil
}

func (e *Encryptor) deriveSubkey(salt, info []byte) ([]byte, error) {
	r := hkdf.New(newSHA256, e.masterKey[:], salt, info)
	subkey := make([]byte, keySize)
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("crypto: deriving subkey: %w", err)
	}
	return subkey, nil
}
