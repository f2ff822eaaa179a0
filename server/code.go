package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// codeLogLength is the number of characters of a code included in logs and audit events
const codeLogLength = 8

// AuthorizationCodePayload is the content sealed inside an authorization code.
type AuthorizationCodePayload struct {
	User        string    `json:"user"`
	ClientID    string    `json:"client_id"`
	RedirectURL string    `json:"redirect_url"`
	IssuedAt    time.Time `json:"issued_at"`
}

// CodeIssuer mints authorization codes and opens them again at the token endpoint.
type CodeIssuer struct {
	cipher *security.SecretCipher
	store  storage.CodeStore
	ttl    time.Duration
	logger *slog.Logger

	metrics *instrumentation.Metrics
}

// NewCodeIssuer creates an issuer whose codes live for ttl.
func NewCodeIssuer(cipher *security.SecretCipher, store storage.CodeStore, ttl time.Duration, logger *slog.Logger) (*CodeIssuer, error) {
	if cipher == nil {
		return nil, fmt.Errorf("secret cipher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("code lifetime must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeIssuer{cipher: cipher, store: store, ttl: ttl, logger: logger}, nil
}

// Issue seals the payload into a code and records it in the store with
// ExpiresAt = now + ttl. A stored code is never overwritten; a collision fails
// the request as an internal error.
func (ci *CodeIssuer) Issue(ctx context.Context, user, clientID, redirectURL string, now time.Time) (string, error) {
	payload, err := json.Marshal(&AuthorizationCodePayload{
		User:        user,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		IssuedAt:    now,
	})
	if err != nil {
		return "", newError(KindInternal, ErrorCodeServerError, fmt.Errorf("failed to encode code payload: %w", err))
	}

	start := time.Now()
	code, err := ci.cipher.Encrypt(payload)
	ci.recordCipher(ctx, "encrypt", err, start)
	if err != nil {
		return "", newError(KindInternal, ErrorCodeServerError, fmt.Errorf("failed to encrypt code: %w", err))
	}

	record := &storage.CodeRecord{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ci.ttl),
	}
	if err := ci.store.SaveAuthorizationCode(ctx, code, record); err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeExists) {
			ci.logger.Error("Authorization code collision",
				"code_prefix", util.SafeTruncate(code, codeLogLength),
				"client_id", clientID)
		}
		return "", newError(KindInternal, ErrorCodeServerError, fmt.Errorf("failed to store code: %w", err))
	}

	return code, nil
}

// Open decrypts a code and parses its payload. Any failure is an invalid grant.
func (ci *CodeIssuer) Open(ctx context.Context, code string) (*AuthorizationCodePayload, error) {
	start := time.Now()
	plaintext, err := ci.cipher.Decrypt(code)
	ci.recordCipher(ctx, "decrypt", err, start)
	if err != nil {
		return nil, newError(KindInvalidGrant, ErrorCodeInvalidGrant, err)
	}

	var payload AuthorizationCodePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, newError(KindInvalidGrant, ErrorCodeInvalidGrant, fmt.Errorf("malformed code payload: %w", err))
	}
	if payload.User == "" || payload.ClientID == "" || payload.RedirectURL == "" {
		return nil, newError(KindInvalidGrant, ErrorCodeInvalidGrant, fmt.Errorf("incomplete code payload"))
	}
	return &payload, nil
}

// TTL returns the lifetime of issued codes
func (ci *CodeIssuer) TTL() time.Duration {
	return ci.ttl
}

func (ci *CodeIssuer) recordCipher(ctx context.Context, operation string, err error, start time.Time) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ci.metrics.RecordEncryption(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
}
