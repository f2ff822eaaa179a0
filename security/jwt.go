package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// AccessTokenType is the JOSE "typ" header of issued access tokens (RFC 9068).
const AccessTokenType = "at+jwt"

var (
	// ErrInvalidToken is returned when an access token is malformed, has a bad signature,
	// or carries claims that do not match this issuer.
	ErrInvalidToken = errors.New("security: invalid access token")

	// ErrTokenExpired is returned for a correctly signed token used at or after its expiry.
	ErrTokenExpired = errors.New("security: access token expired")
)

// AccessTokenClaims are the claims carried by an access token.
// Subject is the authenticated user and Audience holds the client id.
type AccessTokenClaims struct {
	jwt.Claims
	ClientID string `json:"client_id"`
}

// TokenSigner signs and verifies EdDSA access tokens.
type TokenSigner struct {
	issuer     string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyID      string
	signer     jose.Signer
}

// NewTokenSigner creates a signer for the given issuer. A nil key generates a fresh one,
// which means tokens do not survive a restart.
func NewTokenSigner(issuer string, key ed25519.PrivateKey) (*TokenSigner, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}

	publicKey := key.Public().(ed25519.PublicKey)
	hash := sha256.Sum256(publicKey)
	keyID := base64.RawURLEncoding.EncodeToString(hash[:8])

	opts := (&jose.SignerOptions{}).WithType(AccessTokenType).WithHeader("kid", keyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: key}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &TokenSigner{
		issuer:     issuer,
		privateKey: key,
		publicKey:  publicKey,
		keyID:      keyID,
		signer:     signer,
	}, nil
}

// Issuer returns the "iss" value stamped on every token.
func (s *TokenSigner) Issuer() string {
	return s.issuer
}

// KeyID returns the "kid" header value.
func (s *TokenSigner) KeyID() string {
	return s.keyID
}

// Sign serializes claims as a compact JWS. Issuer is filled in when empty.
func (s *TokenSigner) Sign(claims AccessTokenClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}

	token, err := jwt.Signed(s.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature, issuer and validity window of token at now.
// Expiry is exact: a token is rejected from its "exp" instant on.
func (s *TokenSigner) Verify(token string, now time.Time) (*AccessTokenClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &AccessTokenClaims{}
	if err := parsed.Claims(s.publicKey, claims); err != nil {
		return nil, fmt.Errorf("%w: signature verification failed", ErrInvalidToken)
	}

	if claims.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if IsExpired(now, claims.Expiry.Time()) {
		return nil, ErrTokenExpired
	}

	// jwt.Expected applies a one minute leeway to exp, which is checked above without one.
	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: s.issuer, Time: now}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: claims validation failed: %v", ErrInvalidToken, err)
	}

	return claims, nil
}

// JWKS returns the public verification key as a JSON Web Key Set.
func (s *TokenSigner) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       s.publicKey,
			KeyID:     s.keyID,
			Algorithm: string(jose.EdDSA),
			Use:       "sig",
		}},
	}
}

// ParseSigningKey decodes a base64 Ed25519 key. Both the 32-byte seed and the
// 64-byte private key forms are accepted.
func ParseSigningKey(s string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("failed to decode signing key: %w", err)
		}
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("signing key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
