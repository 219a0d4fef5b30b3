// Package crypto implements the key agreement and topic derivation used by
// the push handshake. It uses X25519 for key agreement, HKDF-SHA256 for
// symmetric key derivation and ChaCha20-Poly1305 for envelope sealing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of X25519 keys and derived symmetric keys in bytes.
const KeySize = 32

var (
	// ErrInvalidPeerKey is returned when a peer key is not a 32-byte,
	// non-zero X25519 point encoded as hex.
	ErrInvalidPeerKey = errors.New("invalid peer public key")

	// ErrAgreementFailure is returned for any failure of the key agreement
	// itself, including a low-order shared secret.
	ErrAgreementFailure = errors.New("key agreement failed")
)

// PublicKey is a raw X25519 public key.
type PublicKey [KeySize]byte

// Hex returns the lowercase hex encoding of the key.
func (p PublicKey) Hex() string {
	return hex.EncodeToString(p[:])
}

// String implements fmt.Stringer.
func (p PublicKey) String() string {
	return p.Hex()
}

// PrivateKey is a raw X25519 private scalar.
type PrivateKey [KeySize]byte

// PublicKey computes the matching public key.
func (k *PrivateKey) PublicKey() PublicKey {
	var pub PublicKey
	curve25519.ScalarBaseMult((*[KeySize]byte)(&pub), (*[KeySize]byte)(k))
	return pub
}

// Zero wipes the private key.
func (k *PrivateKey) Zero() {
	ZeroBytes(k[:])
}

// SymmetricKey is the 32-byte key produced by key agreement.
type SymmetricKey [KeySize]byte

// Hex returns the lowercase hex encoding of the key.
func (k SymmetricKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// Zero wipes the key.
func (k *SymmetricKey) Zero() {
	ZeroBytes(k[:])
}

// KeyPair is an ephemeral X25519 keypair.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// AgreementKeys is the result of a key agreement: the local ephemeral public
// key, which the peer needs to complete its side, and the shared key.
type AgreementKeys struct {
	PublicKey PublicKey
	SharedKey SymmetricKey
}

// GenerateKeyPair returns a fresh ephemeral X25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}

	// Clamp per RFC 7748
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	kp.Public = kp.Private.PublicKey()
	return kp, nil
}

// ParsePublicKeyHex decodes a hex-encoded X25519 public key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	var pub PublicKey

	raw, err := hex.DecodeString(s)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	if len(raw) != KeySize {
		return pub, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPeerKey, len(raw), KeySize)
	}
	copy(pub[:], raw)

	var zero PublicKey
	if pub == zero {
		return pub, fmt.Errorf("%w: zero key", ErrInvalidPeerKey)
	}
	return pub, nil
}

// DeriveTopic returns the response topic for a peer public key:
// hex(SHA-256(raw key bytes)).
func DeriveTopic(pub PublicKey) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:])
}

// DeriveSharedKey performs X25519 with the local private key and the peer
// public key and expands the secret into a symmetric key with HKDF-SHA256.
func DeriveSharedKey(priv PrivateKey, peer PublicKey) (SymmetricKey, error) {
	var key SymmetricKey

	secret, err := ecdh(priv, peer)
	if err != nil {
		return key, err
	}
	defer ZeroBytes(secret)

	reader := hkdf.New(sha256.New, secret, nil, nil)
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, fmt.Errorf("%w: hkdf: %v", ErrAgreementFailure, err)
	}
	return key, nil
}

// Agree generates an ephemeral keypair and performs key agreement with the
// hex-encoded peer key. The ephemeral private key is wiped before returning.
func Agree(peerHex string) (AgreementKeys, error) {
	peer, err := ParsePublicKeyHex(peerHex)
	if err != nil {
		return AgreementKeys{}, err
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return AgreementKeys{}, fmt.Errorf("%w: %v", ErrAgreementFailure, err)
	}
	defer kp.Private.Zero()

	shared, err := DeriveSharedKey(kp.Private, peer)
	if err != nil {
		return AgreementKeys{}, err
	}

	return AgreementKeys{PublicKey: kp.Public, SharedKey: shared}, nil
}

// ecdh returns the raw X25519 shared secret. curve25519.X25519 rejects
// low-order peer points by returning an error for an all-zero output.
func ecdh(priv PrivateKey, peer PublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgreementFailure, err)
	}
	return secret, nil
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
