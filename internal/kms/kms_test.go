package kms

import (
	"errors"
	"sync"
	"testing"

	"github.com/postalsys/pushrelay/internal/crypto"
)

func TestCreateAndAgree(t *testing.T) {
	s := NewMemoryStore()

	self, err := s.CreateX25519KeyPair()
	if err != nil {
		t.Fatalf("CreateX25519KeyPair: %v", err)
	}
	if !s.hasPrivateKey(self) {
		t.Fatal("private key not retained")
	}

	peer, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	keys, err := s.PerformKeyAgreement(self, peer.Public.Hex())
	if err != nil {
		t.Fatalf("PerformKeyAgreement: %v", err)
	}
	if keys.PublicKey != self {
		t.Error("agreement keys carry the wrong public key")
	}

	peerShared, err := crypto.DeriveSharedKey(peer.Private, self)
	if err != nil {
		t.Fatalf("DeriveSharedKey: %v", err)
	}
	if peerShared != keys.SharedKey {
		t.Error("shared key mismatch between store and peer")
	}
}

func TestPerformKeyAgreement_Errors(t *testing.T) {
	s := NewMemoryStore()
	self, _ := s.CreateX25519KeyPair()

	if _, err := s.PerformKeyAgreement(self, "not-hex"); !errors.Is(err, crypto.ErrInvalidPeerKey) {
		t.Errorf("bad peer: err = %v, want ErrInvalidPeerKey", err)
	}

	peer, _ := crypto.GenerateKeyPair()
	var unknown crypto.PublicKey
	unknown[0] = 42
	_, err := s.PerformKeyAgreement(unknown, peer.Public.Hex())
	if !errors.Is(err, ErrPrivateKeyNotFound) || !errors.Is(err, crypto.ErrAgreementFailure) {
		t.Errorf("unknown self: err = %v, want ErrPrivateKeyNotFound and ErrAgreementFailure", err)
	}
}

func TestSymmetricKeys(t *testing.T) {
	s := NewMemoryStore()
	key := crypto.SymmetricKey{1, 2, 3}

	if err := s.SetSymmetricKey(key, "topic-a"); err != nil {
		t.Fatalf("SetSymmetricKey: %v", err)
	}
	got, ok := s.GetSymmetricKey("topic-a")
	if !ok || got != key {
		t.Fatalf("GetSymmetricKey = %v, %v", got, ok)
	}

	s.DeleteSymmetricKey("topic-a")
	if _, ok := s.GetSymmetricKey("topic-a"); ok {
		t.Error("key still present after delete")
	}

	// Deleting twice is harmless
	s.DeleteSymmetricKey("topic-a")

	if err := s.SetSymmetricKey(key, ""); err == nil {
		t.Error("empty topic accepted")
	}
}

func TestDeletePrivateKey(t *testing.T) {
	s := NewMemoryStore()
	self, _ := s.CreateX25519KeyPair()

	s.DeletePrivateKey(self)
	if s.hasPrivateKey(self) {
		t.Error("private key still present after delete")
	}
	if priv, sym := s.Len(); priv != 0 || sym != 0 {
		t.Errorf("Len = %d, %d, want 0, 0", priv, sym)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := string(rune('a' + i%26))
			_ = s.SetSymmetricKey(crypto.SymmetricKey{byte(i)}, topic)
			s.GetSymmetricKey(topic)
			s.DeleteSymmetricKey(topic)
		}(i)
	}
	wg.Wait()

	if _, sym := s.Len(); sym != 0 {
		t.Errorf("symmetric keys left = %d", sym)
	}
}
