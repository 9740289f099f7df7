// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor encrypts a single field value. Ciphertexts must be bound to aad so
// a value cannot be moved to another event or field undetected.
type Encryptor interface {
	// KeyID identifies the key-encryption key used.
	KeyID() string
	Encrypt(plaintext, aad []byte) ([]byte, error)
	Decrypt(ciphertext, aad []byte) ([]byte, error)
}

var (
	// ErrKeySize is returned when key material has the wrong length.
	ErrKeySize = errors.New("envelope: invalid key size")
	// ErrDecrypt is returned for malformed or unauthenticated ciphertexts.
	ErrDecrypt = errors.New("envelope: decryption failed")
)

const formatV1 byte = 1

const (
	nonceSize      = chacha20poly1305.NonceSizeX
	wrappedKeySize = chacha20poly1305.KeySize + chacha20poly1305.Overhead
	headerSize     = 1 + nonceSize + wrappedKeySize + nonceSize
)

// XChaCha20Encryptor performs envelope encryption: every call generates a
// fresh data key, encrypts the value with it, and wraps the data key with the
// key-encryption key. Both layers use XChaCha20-Poly1305.
//
// Output layout: version | wrap nonce | wrapped data key | data nonce | ciphertext.
type XChaCha20Encryptor struct {
	keyID string
	kek   cipher.AEAD
	rand  io.Reader
}

// NewXChaCha20Encryptor creates an encryptor from a 32-byte key-encryption key.
func NewXChaCha20Encryptor(keyID string, kek []byte) (*XChaCha20Encryptor, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key-encryption key must be %d bytes, got %d", ErrKeySize, chacha20poly1305.KeySize, len(kek))
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create key-encryption cipher: %w", err)
	}
	return &XChaCha20Encryptor{keyID: keyID, kek: aead, rand: rand.Reader}, nil
}

// KeyID returns the key-encryption key identifier.
func (e *XChaCha20Encryptor) KeyID() string {
	return e.keyID
}

// Encrypt seals plaintext under a new data key.
func (e *XChaCha20Encryptor) Encrypt(plaintext, aad []byte) ([]byte, error) {
	dek := make([]byte, chacha20poly1305.KeySize)
	defer clear(dek)
	if _, err := io.ReadFull(e.rand, dek); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	nonces := make([]byte, 2*nonceSize)
	if _, err := io.ReadFull(e.rand, nonces); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	wrapNonce, dataNonce := nonces[:nonceSize], nonces[nonceSize:]

	data, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create data cipher: %w", err)
	}

	out := make([]byte, 0, headerSize+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, formatV1)
	out = append(out, wrapNonce...)
	out = e.kek.Seal(out, wrapNonce, dek, aad)
	out = append(out, dataNonce...)
	out = data.Seal(out, dataNonce, plaintext, aad)
	return out, nil
}

// Decrypt reverses Encrypt. Any tampering with the ciphertext or aad yields ErrDecrypt.
func (e *XChaCha20Encryptor) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < headerSize+chacha20poly1305.Overhead || ciphertext[0] != formatV1 {
		return nil, ErrDecrypt
	}
	rest := ciphertext[1:]
	wrapNonce, rest := rest[:nonceSize], rest[nonceSize:]
	wrapped, rest := rest[:wrappedKeySize], rest[wrappedKeySize:]
	dataNonce, sealed := rest[:nonceSize], rest[nonceSize:]

	dek, err := e.kek.Open(nil, wrapNonce, wrapped, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	defer clear(dek)

	data, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, ErrDecrypt
	}
	plaintext, err := data.Open(nil, dataNonce, sealed, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
