// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	AlgHMACSHA256 = "hmac-sha256"
	AlgEd25519    = "ed25519"
)

// ErrInvalidSignature is returned when a signature does not match its payload.
var ErrInvalidSignature = errors.New("envelope: invalid signature")

// Signature travels alongside a signed payload.
type Signature struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Value     []byte `json:"sig"`
}

// Signer computes and checks tamper-evidence signatures over canonical payload bytes.
type Signer interface {
	Algorithm() string
	KeyID() string
	Sign(payload []byte) (Signature, error)
	Verify(payload []byte, sig Signature) error
}

// HMACSigner signs with HMAC-SHA256. Sink and producer share the key.
type HMACSigner struct {
	keyID string
	key   []byte
}

// NewHMACSigner creates an HMAC signer. The key must be at least 32 bytes.
func NewHMACSigner(keyID string, key []byte) (*HMACSigner, error) {
	if len(key) < sha256.Size {
		return nil, fmt.Errorf("%w: hmac key must be at least %d bytes", ErrKeySize, sha256.Size)
	}
	return &HMACSigner{keyID: keyID, key: append([]byte(nil), key...)}, nil
}

func (s *HMACSigner) Algorithm() string { return AlgHMACSHA256 }

func (s *HMACSigner) KeyID() string { return s.keyID }

// Sign returns the HMAC of payload.
func (s *HMACSigner) Sign(payload []byte) (Signature, error) {
	return Signature{Algorithm: AlgHMACSHA256, KeyID: s.keyID, Value: s.mac(payload)}, nil
}

// Verify checks sig in constant time.
func (s *HMACSigner) Verify(payload []byte, sig Signature) error {
	if sig.Algorithm != AlgHMACSHA256 || sig.KeyID != s.keyID {
		return fmt.Errorf("%w: unexpected algorithm %q or key %q", ErrInvalidSignature, sig.Algorithm, sig.KeyID)
	}
	if !hmac.Equal(s.mac(payload), sig.Value) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *HMACSigner) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return h.Sum(nil)
}

// Ed25519Signer signs with an Ed25519 private key so the sink only needs the
// public key to verify.
type Ed25519Signer struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

// NewEd25519Signer derives an Ed25519 key pair from a 32-byte seed.
func NewEd25519Signer(keyID string, seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes", ErrKeySize, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{keyID: keyID, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgEd25519 }

func (s *Ed25519Signer) KeyID() string { return s.keyID }

// PublicKey returns the verification key to distribute to the sink.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

func (s *Ed25519Signer) Sign(payload []byte) (Signature, error) {
	return Signature{Algorithm: AlgEd25519, KeyID: s.keyID, Value: ed25519.Sign(s.priv, payload)}, nil
}

func (s *Ed25519Signer) Verify(payload []byte, sig Signature) error {
	if sig.Algorithm != AlgEd25519 || sig.KeyID != s.keyID {
		return fmt.Errorf("%w: unexpected algorithm %q or key %q", ErrInvalidSignature, sig.Algorithm, sig.KeyID)
	}
	if !ed25519.Verify(s.pub, payload, sig.Value) {
		return ErrInvalidSignature
	}
	return nil
}
