package relay

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/postalsys/pushrelay/internal/crypto"
)

// parseToken verifies token the way the relay does: EdDSA only, signed by
// the key named in the issuer.
func parseToken(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()})}, opts...)
	_, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		iss, err := tok.Claims.GetIssuer()
		if err != nil {
			return nil, err
		}
		pubHex, ok := strings.CutPrefix(iss, authIssuerPrefix)
		if !ok {
			return nil, fmt.Errorf("unknown issuer %q", iss)
		}
		pub, err := hex.DecodeString(pubHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("bad issuer key %q", pubHex)
		}
		return ed25519.PublicKey(pub), nil
	}, opts...)
	return claims, err
}

func TestAuthenticator_TokenVerifies(t *testing.T) {
	key, err := crypto.GenerateClientKey()
	if err != nil {
		t.Fatalf("GenerateClientKey: %v", err)
	}
	a := NewAuthenticator(key, "wss://relay.test", time.Hour)

	token, err := a.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token %q is not a compact JWT", token)
	}

	claims, err := parseToken(token)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.Issuer != "ed25519:"+key.PublicHex() {
		t.Errorf("iss = %q", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "wss://relay.test" {
		t.Errorf("aud = %v", claims.Audience)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestAuthenticator_DefaultTTL(t *testing.T) {
	key, _ := crypto.GenerateClientKey()
	token, err := NewAuthenticator(key, "aud", 0).Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	claims, err := parseToken(token)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 24*time.Hour {
		t.Errorf("lifetime = %v, want 24h", got)
	}
}

func TestAuthenticator_FreshSubjectPerToken(t *testing.T) {
	key, _ := crypto.GenerateClientKey()
	a := NewAuthenticator(key, "aud", 0)

	t1, _ := a.Token()
	t2, _ := a.Token()
	c1, err := parseToken(t1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := parseToken(t2)
	if err != nil {
		t.Fatal(err)
	}
	if c1.Subject == c2.Subject {
		t.Error("tokens share a subject")
	}
}

func TestAuthenticator_TokenRejected(t *testing.T) {
	key, _ := crypto.GenerateClientKey()
	other, _ := crypto.GenerateClientKey()
	a := NewAuthenticator(key, "aud", time.Minute)
	token, _ := a.Token()
	parts := strings.Split(token, ".")

	forged, _ := NewAuthenticator(other, "aud", time.Minute).Token()
	forgedParts := strings.Split(forged, ".")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    a.Issuer(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("unsigned token: %v", err)
	}

	later := func() time.Time { return time.Now().Add(2 * time.Minute) }

	tests := []struct {
		name  string
		token string
		opts  []jwt.ParserOption
		want  error
	}{
		{"segments", "a.b", nil, jwt.ErrTokenMalformed},
		{"expired", token, []jwt.ParserOption{jwt.WithTimeFunc(later)}, jwt.ErrTokenExpired},
		{"wrong signer", parts[0] + "." + parts[1] + "." + forgedParts[2], nil, jwt.ErrTokenSignatureInvalid},
		{"alg none", unsigned, nil, jwt.ErrTokenSignatureInvalid},
		{"payload", parts[0] + ".!!!." + parts[2], nil, jwt.ErrTokenMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseToken(tt.token, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
