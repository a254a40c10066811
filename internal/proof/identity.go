// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package proof provides the signature and identity-assertion proofs that
// back feed credentials. Keys are Ed25519; an identity is referred to by its
// commitment, the hex BLAKE3 hash of its public key.
package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// PublicKey is an Ed25519 public key.
type PublicKey []byte

// String returns the hex encoding of the key.
func (k PublicKey) String() string { return hex.EncodeToString(k) }

// Equal reports whether both keys hold the same bytes.
func (k PublicKey) Equal(other PublicKey) bool {
	return ed25519.PublicKey(k).Equal(ed25519.PublicKey(other))
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("proof: decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("proof: public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return PublicKey(b), nil
}

// Commitment derives the identity commitment for a public key.
func Commitment(pub PublicKey) string {
	sum := blake3.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Identity is a signing identity held by a client.
type Identity struct {
	private ed25519.PrivateKey
}

// NewIdentity generates an identity from rand (crypto/rand when nil).
func NewIdentity(random io.Reader) (*Identity, error) {
	if random == nil {
		random = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("proof: generate identity: %w", err)
	}
	return &Identity{private: priv}, nil
}

// IdentityFromSeed rebuilds an identity from a 32-byte seed.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("proof: seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return &Identity{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() PublicKey {
	return PublicKey(id.private.Public().(ed25519.PublicKey))
}

// Commitment returns the identity commitment.
func (id *Identity) Commitment() string {
	return Commitment(id.PublicKey())
}

func (id *Identity) sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}
