// Package security contains the cryptographic and protective primitives used by
// the authorization server.
//
// # Code cipher
//
// SecretCipher seals authorization code payloads with AES-256-GCM. Each token is
// base64url(nonce || ciphertext || tag) without padding, so it can be placed in a
// redirect URL query string as is. Any decryption failure is reported as ErrDecrypt.
//
// # Access tokens
//
// TokenSigner issues Ed25519-signed JWT access tokens and verifies them. The
// public key is published as a JWK set.
//
// # Rate limiting
//
// RateLimiter keeps one token bucket per client IP, bounded by an LRU of
// MaxEntries keys. Idle keys are swept in the background.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	})
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    return http.StatusTooManyRequests
//	}
//
// # Audit
//
// Auditor writes security events through slog. User identifiers are replaced
// by a truncated SHA-256 hash.
package security
