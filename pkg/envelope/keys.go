// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the length of the raw master secret.
const MasterKeySize = 32

// Key derivation purposes. Each yields an independent 32-byte key.
const (
	PurposeEncryption = "phi-audit/v1/encryption"
	PurposeSigning    = "phi-audit/v1/signing"
)

// ErrKeyNotFound is returned when a key source holds no secret.
var ErrKeyNotFound = errors.New("envelope: master key not found")

// MasterKey is the root secret the encryption and signing keys are derived from.
type MasterKey struct {
	id     string
	secret []byte
}

// GenerateMasterKey returns a new random master key.
func GenerateMasterKey(id string) (MasterKey, error) {
	secret := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return MasterKey{}, fmt.Errorf("failed to generate master key: %w", err)
	}
	return MasterKey{id: id, secret: secret}, nil
}

// ParseMasterKey decodes a base64 master key.
func ParseMasterKey(id, encoded string) (MasterKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return MasterKey{}, ErrKeyNotFound
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return MasterKey{}, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(secret) != MasterKeySize {
		return MasterKey{}, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrKeySize, MasterKeySize, len(secret))
	}
	return MasterKey{id: id, secret: secret}, nil
}

// ID returns the key identifier carried on ciphertexts and signatures.
func (k MasterKey) ID() string { return k.id }

// Encoded returns the base64 form accepted by ParseMasterKey.
func (k MasterKey) Encoded() string {
	return base64.StdEncoding.EncodeToString(k.secret)
}

// Derive expands the master secret into a purpose-bound 32-byte key with HKDF-SHA256.
func (k MasterKey) Derive(purpose string) ([]byte, error) {
	if len(k.secret) != MasterKeySize {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.secret, nil, []byte(purpose)), out); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return out, nil
}

// Encryptor returns the default field encryptor for this master key.
func (k MasterKey) Encryptor() (*XChaCha20Encryptor, error) {
	kek, err := k.Derive(PurposeEncryption)
	if err != nil {
		return nil, err
	}
	return NewXChaCha20Encryptor(k.id, kek)
}

// Signer returns a signer for the named algorithm.
func (k MasterKey) Signer(algorithm string) (Signer, error) {
	key, err := k.Derive(PurposeSigning)
	if err != nil {
		return nil, err
	}
	switch algorithm {
	case AlgHMACSHA256, "":
		return NewHMACSigner(k.id, key)
	case AlgEd25519:
		return NewEd25519Signer(k.id, key)
	default:
		return nil, fmt.Errorf("unsupported signature algorithm %q", algorithm)
	}
}

// LoadFromEnv reads a base64 master key from the named environment variable.
func LoadFromEnv(id, name string) (MasterKey, error) {
	key, err := ParseMasterKey(id, os.Getenv(name))
	if err != nil {
		return MasterKey{}, fmt.Errorf("master key from env %s: %w", name, err)
	}
	return key, nil
}

// LoadFromFile reads a base64 master key from path.
func LoadFromFile(id, path string) (MasterKey, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return MasterKey{}, fmt.Errorf("failed to read master key file %s: %w", path, err)
	}
	key, err := ParseMasterKey(id, string(content))
	if err != nil {
		return MasterKey{}, fmt.Errorf("master key from file %s: %w", path, err)
	}
	return key, nil
}

// LoadFromKeyring reads a base64 master key from the OS keyring.
func LoadFromKeyring(id, service, user string) (MasterKey, error) {
	encoded, err := keyring.Get(service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return MasterKey{}, fmt.Errorf("master key from keyring %s/%s: %w", service, user, ErrKeyNotFound)
	}
	if err != nil {
		return MasterKey{}, fmt.Errorf("failed to read keyring %s/%s: %w", service, user, err)
	}
	return ParseMasterKey(id, encoded)
}

// StoreInKeyring writes the master key to the OS keyring.
func StoreInKeyring(service, user string, key MasterKey) error {
	if err := keyring.Set(service, user, key.Encoded()); err != nil {
		return fmt.Errorf("failed to write keyring %s/%s: %w", service, user, err)
	}
	return nil
}
