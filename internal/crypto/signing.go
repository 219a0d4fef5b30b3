package crypto

import (
	stdcrypto "crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Ed25519 sizes.
const (
	Ed25519PublicKeySize = ed25519.PublicKeySize
	Ed25519SeedSize      = ed25519.SeedSize
)

// ClientKey is the long-lived Ed25519 key a client uses to authenticate
// itself to the relay. It is unrelated to the per-handshake X25519 keys.
type ClientKey struct {
	seed [Ed25519SeedSize]byte
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateClientKey returns a new random client key.
func GenerateClientKey() (*ClientKey, error) {
	var seed [Ed25519SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("generate client key: %w", err)
	}
	return ClientKeyFromSeed(seed), nil
}

// ClientKeyFromSeed derives a client key from a stored 32-byte seed.
func ClientKeyFromSeed(seed [Ed25519SeedSize]byte) *ClientKey {
	priv := ed25519.NewKeyFromSeed(seed[:])
	return &ClientKey{
		seed: seed,
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}
}

// ParseClientKeySeed decodes a hex seed as produced by SeedHex.
func ParseClientKeySeed(s string) (*ClientKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode client key seed: %w", err)
	}
	if len(raw) != Ed25519SeedSize {
		return nil, fmt.Errorf("client key seed: got %d bytes, want %d", len(raw), Ed25519SeedSize)
	}
	var seed [Ed25519SeedSize]byte
	copy(seed[:], raw)
	ZeroBytes(raw)
	return ClientKeyFromSeed(seed), nil
}

// PublicHex returns the hex-encoded public key.
func (k *ClientKey) PublicHex() string {
	return hex.EncodeToString(k.pub)
}

// SeedHex returns the hex-encoded seed. Treat the result as secret.
func (k *ClientKey) SeedHex() string {
	return hex.EncodeToString(k.seed[:])
}

// Signer returns the private key as a crypto.Signer for token signing.
func (k *ClientKey) Signer() stdcrypto.Signer {
	return k.priv
}

// Zero wipes the private material.
func (k *ClientKey) Zero() {
	ZeroBytes(k.seed[:])
	ZeroBytes(k.priv)
}
