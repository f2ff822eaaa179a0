// Package server implements the authorization-code grant.
//
// The Server type runs the two endpoint state machines:
//   - Authorize: response type and parameters, client and redirect URL,
//     resource owner credentials, then an authorization code
//   - Token: grant type and parameters, client credentials, authorization code,
//     then an access token
//
// Each machine evaluates its checks in a fixed order and stops at the first
// failure. Failures are *Error values carrying a Kind, the OAuth error code and
// the state the machine stopped in. Descriptions are generic per kind; the precise
// reason only reaches debug logs, audit events and metrics.
//
// Authorization codes are encrypted payloads (security.SecretCipher) that are
// also tracked in a storage.CodeStore, which enforces single use and expiry.
// Access tokens are EdDSA-signed JWTs (security.TokenSigner).
//
// Example usage:
//
//	srv, err := server.New(store, store, verifier, cipher, signer, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := srv.Authorize(ctx, server.AuthorizeRequest{...})
package server
