package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope kinds.
const (
	// EnvelopeType0 carries only the sealed payload; both sides already
	// share the symmetric key.
	EnvelopeType0 byte = 0

	// EnvelopeType1 additionally carries the sender's ephemeral public key
	// so the receiver can complete key agreement before opening.
	EnvelopeType1 byte = 1
)

const (
	// NonceSize is the size of ChaCha20-Poly1305 nonces in bytes.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the size of Poly1305 authentication tags in bytes.
	TagSize = chacha20poly1305.Overhead
)

var (
	// ErrInvalidEnvelope is returned when sealed data is truncated or has
	// an unknown type byte.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrDecryptionFailed is returned when authentication fails.
	ErrDecryptionFailed = errors.New("envelope decryption failed")
)

// EnvelopeType describes how a sealed payload is framed.
type EnvelopeType struct {
	Kind byte

	// SenderPublicKey is set for EnvelopeType1.
	SenderPublicKey *PublicKey
}

// Type0 returns the plain envelope type.
func Type0() EnvelopeType {
	return EnvelopeType{Kind: EnvelopeType0}
}

// Type1 returns an envelope type that carries pub.
func Type1(pub PublicKey) EnvelopeType {
	return EnvelopeType{Kind: EnvelopeType1, SenderPublicKey: &pub}
}

// headerLen returns the number of bytes before the nonce.
func (e EnvelopeType) headerLen() int {
	if e.Kind == EnvelopeType1 {
		return 1 + KeySize
	}
	return 1
}

// Seal encrypts plaintext under key and frames it as
// type || [sender public key] || nonce || ciphertext+tag.
func Seal(key SymmetricKey, plaintext []byte, env EnvelopeType) ([]byte, error) {
	switch env.Kind {
	case EnvelopeType0:
	case EnvelopeType1:
		if env.SenderPublicKey == nil {
			return nil, fmt.Errorf("%w: type 1 without sender key", ErrInvalidEnvelope)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidEnvelope, env.Kind)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	hdr := env.headerLen()
	out := make([]byte, hdr+NonceSize, hdr+NonceSize+len(plaintext)+TagSize)
	out[0] = env.Kind
	if env.Kind == EnvelopeType1 {
		copy(out[1:hdr], env.SenderPublicKey[:])
	}

	nonce := out[hdr : hdr+NonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(out, nonce, plaintext, nil), nil
}

// PeekEnvelopeType parses the envelope header without decrypting. A
// receiver of a type 1 envelope uses it to learn the sender key.
func PeekEnvelopeType(sealed []byte) (EnvelopeType, error) {
	if len(sealed) < 1 {
		return EnvelopeType{}, fmt.Errorf("%w: empty", ErrInvalidEnvelope)
	}

	env := EnvelopeType{Kind: sealed[0]}
	switch env.Kind {
	case EnvelopeType0:
	case EnvelopeType1:
		if len(sealed) < 1+KeySize {
			return EnvelopeType{}, fmt.Errorf("%w: truncated sender key", ErrInvalidEnvelope)
		}
		var pub PublicKey
		copy(pub[:], sealed[1:1+KeySize])
		env.SenderPublicKey = &pub
	default:
		return EnvelopeType{}, fmt.Errorf("%w: unknown type %d", ErrInvalidEnvelope, env.Kind)
	}

	if len(sealed) < env.headerLen()+NonceSize+TagSize {
		return EnvelopeType{}, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(sealed))
	}
	return env, nil
}

// Open authenticates and decrypts an envelope produced by Seal.
func Open(key SymmetricKey, sealed []byte) ([]byte, EnvelopeType, error) {
	env, err := PeekEnvelopeType(sealed)
	if err != nil {
		return nil, EnvelopeType{}, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, EnvelopeType{}, fmt.Errorf("create cipher: %w", err)
	}

	hdr := env.headerLen()
	nonce := sealed[hdr : hdr+NonceSize]
	plaintext, err := aead.Open(nil, nonce, sealed[hdr+NonceSize:], nil)
	if err != nil {
		return nil, EnvelopeType{}, ErrDecryptionFailed
	}
	return plaintext, env, nil
}

// SealBase64 is Seal followed by standard base64 encoding, the form
// published on the relay.
func SealBase64(key SymmetricKey, plaintext []byte, env EnvelopeType) (string, error) {
	sealed, err := Seal(key, plaintext, env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecodeBase64 reverses the encoding applied by SealBase64.
func DecodeBase64(message string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return sealed, nil
}
