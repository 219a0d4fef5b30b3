package relay

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/postalsys/pushrelay/internal/crypto"
)

const (
	authIssuerPrefix = "ed25519:"
	defaultAuthTTL   = 24 * time.Hour
)

// Authenticator signs relay auth tokens: compact JWTs with EdDSA
// signatures, issued by the client's ed25519 key.
type Authenticator struct {
	key      *crypto.ClientKey
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator creates an authenticator for the relay at audience.
// A non-positive ttl selects 24 hours.
func NewAuthenticator(key *crypto.ClientKey, audience string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = defaultAuthTTL
	}
	return &Authenticator{key: key, audience: audience, ttl: ttl, now: time.Now}
}

// Issuer returns the token issuer derived from the client key.
func (a *Authenticator) Issuer() string {
	return authIssuerPrefix + a.key.PublicHex()
}

// Token signs a fresh token. Each token carries a random subject.
func (a *Authenticator) Token() (string, error) {
	var sub [32]byte
	if _, err := rand.Read(sub[:]); err != nil {
		return "", fmt.Errorf("generate subject: %w", err)
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.Issuer(),
		Subject:   hex.EncodeToString(sub[:]),
		Audience:  jwt.ClaimStrings{a.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(a.key.Signer())
	if err != nil {
		return "", fmt.Errorf("sign auth token: %w", err)
	}
	return token, nil
}
