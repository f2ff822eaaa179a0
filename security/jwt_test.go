package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
)

const testIssuer = "https://auth.example.com"

func newTestSigner(t *testing.T) *TokenSigner {
	t.Helper()
	s, err := NewTokenSigner(testIssuer, nil)
	if err != nil {
		t.Fatalf("NewTokenSigner() error = %v", err)
	}
	return s
}

func testClaims(now time.Time, ttl time.Duration) AccessTokenClaims {
	return AccessTokenClaims{
		Claims: jwt.Claims{
			Subject:   "alice",
			Audience:  jwt.Audience{"c1"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
			ID:        "token-1",
		},
		ClientID: "c1",
	}
}

func TestTokenSigner_SignAndVerify(t *testing.T) {
	s := newTestSigner(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	token, err := s.Sign(testClaims(now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("Sign() = %q, want compact JWS with 3 parts", token)
	}

	claims, err := s.Verify(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if claims.ClientID != "c1" {
		t.Errorf("ClientID = %q, want %q", claims.ClientID, "c1")
	}
	if claims.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, testIssuer)
	}
}

func TestTokenSigner_Header(t *testing.T) {
	s := newTestSigner(t)
	token, err := s.Sign(testClaims(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[0])
	if err != nil {
		t.Fatalf("header is not base64url: %v", err)
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		t.Fatalf("header is not JSON: %v", err)
	}

	if header["alg"] != "EdDSA" {
		t.Errorf("alg = %v, want EdDSA", header["alg"])
	}
	if header["typ"] != AccessTokenType {
		t.Errorf("typ = %v, want %s", header["typ"], AccessTokenType)
	}
	if header["kid"] != s.KeyID() {
		t.Errorf("kid = %v, want %s", header["kid"], s.KeyID())
	}
}

func TestTokenSigner_VerifyExpiry(t *testing.T) {
	s := newTestSigner(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	token, err := s.Sign(testClaims(now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "just before expiry", at: now.Add(time.Hour - time.Millisecond)},
		{name: "exactly at expiry", at: now.Add(time.Hour), wantErr: ErrTokenExpired},
		{name: "after expiry", at: now.Add(2 * time.Hour), wantErr: ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(token, tt.at)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenSigner_VerifyRejectsForgery(t *testing.T) {
	s := newTestSigner(t)
	now := time.Now()

	other, err := NewTokenSigner(testIssuer, nil)
	if err != nil {
		t.Fatalf("NewTokenSigner() error = %v", err)
	}
	otherIssuer, err := NewTokenSigner("https://other.example.com", s.privateKey)
	if err != nil {
		t.Fatalf("NewTokenSigner() error = %v", err)
	}

	foreign, err := other.Sign(testClaims(now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	wrongIssuer, err := otherIssuer.Sign(testClaims(now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	valid, err := s.Sign(testClaims(now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	parts := strings.Split(valid, ".")
	forgedPayload, _ := json.Marshal(map[string]any{"sub": "mallory", "iss": testIssuer, "exp": now.Add(time.Hour).Unix()})
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forgedPayload) + "." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "signed by another key", token: foreign},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "payload swapped", token: tampered},
		{name: "unsigned", token: parts[0] + "." + parts[1] + "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token, now); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenSigner_JWKS(t *testing.T) {
	s := newTestSigner(t)

	set := s.JWKS()
	if len(set.Keys) != 1 {
		t.Fatalf("JWKS() returned %d keys, want 1", len(set.Keys))
	}
	if set.Keys[0].KeyID != s.KeyID() {
		t.Errorf("KeyID = %q, want %q", set.Keys[0].KeyID, s.KeyID())
	}

	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("json.Marshal(JWKS) error = %v", err)
	}
	if !strings.Contains(string(body), `"kty":"OKP"`) || !strings.Contains(string(body), `"crv":"Ed25519"`) {
		t.Errorf("JWKS JSON = %s, want OKP Ed25519 key", body)
	}
	if strings.Contains(string(body), `"d":`) {
		t.Error("JWKS JSON leaks the private key")
	}
}

func TestParseSigningKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error = %v", err)
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "seed", input: base64.StdEncoding.EncodeToString(priv.Seed())},
		{name: "private key", input: base64.StdEncoding.EncodeToString(priv)},
		{name: "url safe seed", input: base64.RawURLEncoding.EncodeToString(priv.Seed())},
		{name: "wrong size", input: base64.StdEncoding.EncodeToString(make([]byte, 10)), wantErr: true},
		{name: "not base64", input: "%%%", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSigningKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSigningKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(priv) {
				t.Error("ParseSigningKey() did not return the original key")
			}
		})
	}
}

func TestNewTokenSigner_RequiresIssuer(t *testing.T) {
	if _, err := NewTokenSigner("", nil); err == nil {
		t.Error("NewTokenSigner(\"\") error = nil, want error")
	}
}
