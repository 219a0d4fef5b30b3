// Package kms is the in-memory key-management store: ephemeral X25519
// private keys indexed by their public key, and symmetric keys indexed by
// topic.
package kms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/postalsys/pushrelay/internal/crypto"
)

// ErrPrivateKeyNotFound is returned when agreement is requested for a public
// key whose private half is not held by the store.
var ErrPrivateKeyNotFound = errors.New("private key not found")

// MemoryStore is safe for concurrent use. Deleted keys are zeroed.
type MemoryStore struct {
	mu            sync.RWMutex
	privateKeys   map[crypto.PublicKey]*crypto.PrivateKey
	symmetricKeys map[string]*crypto.SymmetricKey
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		privateKeys:   make(map[crypto.PublicKey]*crypto.PrivateKey),
		symmetricKeys: make(map[string]*crypto.SymmetricKey),
	}
}

// CreateX25519KeyPair generates an ephemeral keypair, keeps the private key
// and returns the public key.
func (s *MemoryStore) CreateX25519KeyPair() (crypto.PublicKey, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return crypto.PublicKey{}, err
	}

	priv := kp.Private
	kp.Private.Zero()

	s.mu.Lock()
	s.privateKeys[kp.Public] = &priv
	s.mu.Unlock()

	return kp.Public, nil
}

// PerformKeyAgreement derives the shared key between the stored private key
// for self and the hex-encoded peer key.
func (s *MemoryStore) PerformKeyAgreement(self crypto.PublicKey, peerHex string) (crypto.AgreementKeys, error) {
	peer, err := crypto.ParsePublicKeyHex(peerHex)
	if err != nil {
		return crypto.AgreementKeys{}, err
	}

	s.mu.RLock()
	stored, ok := s.privateKeys[self]
	var priv crypto.PrivateKey
	if ok {
		priv = *stored
	}
	s.mu.RUnlock()
	if !ok {
		return crypto.AgreementKeys{}, fmt.Errorf("%w: %w for %s", crypto.ErrAgreementFailure, ErrPrivateKeyNotFound, self.Hex())
	}
	defer priv.Zero()

	shared, err := crypto.DeriveSharedKey(priv, peer)
	if err != nil {
		return crypto.AgreementKeys{}, err
	}
	return crypto.AgreementKeys{PublicKey: self, SharedKey: shared}, nil
}

// SetSymmetricKey stores key under topic, replacing any previous key.
func (s *MemoryStore) SetSymmetricKey(key crypto.SymmetricKey, topic string) error {
	if topic == "" {
		return errors.New("empty topic")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.symmetricKeys[topic]; ok {
		old.Zero()
	}
	s.symmetricKeys[topic] = &key
	return nil
}

// GetSymmetricKey returns the key stored under topic.
func (s *MemoryStore) GetSymmetricKey(topic string) (crypto.SymmetricKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.symmetricKeys[topic]
	if !ok {
		return crypto.SymmetricKey{}, false
	}
	return *key, true
}

// DeleteSymmetricKey removes the key stored under topic. Deleting a missing
// key is a no-op.
func (s *MemoryStore) DeleteSymmetricKey(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.symmetricKeys[topic]; ok {
		key.Zero()
		delete(s.symmetricKeys, topic)
	}
}

// DeletePrivateKey removes the private key held for pub.
func (s *MemoryStore) DeletePrivateKey(pub crypto.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priv, ok := s.privateKeys[pub]; ok {
		priv.Zero()
		delete(s.privateKeys, pub)
	}
}

// hasPrivateKey reports whether the store holds the private key for pub.
func (s *MemoryStore) hasPrivateKey(pub crypto.PublicKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.privateKeys[pub]
	return ok
}

// Len returns the number of private and symmetric keys held.
func (s *MemoryStore) Len() (privateKeys, symmetricKeys int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.privateKeys), len(s.symmetricKeys)
}
