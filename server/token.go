package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

const (
	// GrantTypeAuthorizationCode is the only supported grant type
	GrantTypeAuthorizationCode = "authorization_code"

	// TokenTypeBearer is the token_type of issued tokens
	TokenTypeBearer = "Bearer"
)

// ExchangeRequest holds the token endpoint parameters.
type ExchangeRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// ClientIP is used for audit logging only
	ClientIP string
}

// AccessTokenPayload is the content of an access token.
type AccessTokenPayload struct {
	User      string
	Issuer    string
	ClientID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// IssuedToken is a freshly signed access token. The embedded oauth2.Token
// carries AccessToken, TokenType and Expiry.
type IssuedToken struct {
	*oauth2.Token

	// ExpiresIn is the lifetime in seconds reported to the client
	ExpiresIn int64

	Payload AccessTokenPayload
}

// exchangeStep reports how far Exchange got, so the token machine can name its state.
type exchangeStep int

const (
	stepStart exchangeStep = iota
	stepClientAuthenticated
	stepCodeValidated
)

// TokenIssuer validates a code exchange and signs the access token.
type TokenIssuer struct {
	clients    storage.ClientStore
	codes      storage.CodeStore
	codeIssuer *CodeIssuer
	signer     *security.TokenSigner
	ttl        time.Duration
	logger     *slog.Logger

	auditor *security.Auditor
	metrics *instrumentation.Metrics
}

// NewTokenIssuer creates an issuer whose tokens live for ttl.
func NewTokenIssuer(clients storage.ClientStore, codes storage.CodeStore, codeIssuer *CodeIssuer, signer *security.TokenSigner, ttl time.Duration, logger *slog.Logger) (*TokenIssuer, error) {
	if clients == nil || codes == nil || codeIssuer == nil || signer == nil {
		return nil, fmt.Errorf("client store, code store, code issuer and signer are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token lifetime must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenIssuer{
		clients:    clients,
		codes:      codes,
		codeIssuer: codeIssuer,
		signer:     signer,
		ttl:        ttl,
		logger:     logger,
	}, nil
}

// Exchange redeems an authorization code for an access token. Checks run in
// order and the first failure is returned:
//  1. grant type and required parameters
//  2. client credentials
//  3. code decryption and its payload matching the request
//  4. atomic redemption in the code store
//
// All code failures are KindInvalidGrant with the same description.
func (ti *TokenIssuer) Exchange(ctx context.Context, req ExchangeRequest, now time.Time) (*IssuedToken, error) {
	token, _, err := ti.exchange(ctx, req, now)
	return token, err
}

func (ti *TokenIssuer) exchange(ctx context.Context, req ExchangeRequest, now time.Time) (*IssuedToken, exchangeStep, error) {
	if req.GrantType != GrantTypeAuthorizationCode {
		ti.auditor.LogEvent(security.Event{
			Type:      security.EventUnsupportedGrantType,
			ClientID:  req.ClientID,
			IPAddress: req.ClientIP,
			Details:   map[string]any{"grant_type": util.SafeTruncate(req.GrantType, 64)},
		})
		return nil, stepStart, newError(KindInvalidRequest, ErrorCodeUnsupportedGrantType,
			fmt.Errorf("unsupported grant type %q", util.SafeTruncate(req.GrantType, 64)))
	}
	if req.Code == "" || req.ClientID == "" || req.ClientSecret == "" || req.RedirectURL == "" {
		return nil, stepStart, newError(KindInvalidRequest, ErrorCodeInvalidRequest, fmt.Errorf("missing required parameter"))
	}

	if !ti.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret) {
		ti.auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "invalid_client_credentials")
		return nil, stepStart, newError(KindInvalidClient, ErrorCodeInvalidClient, fmt.Errorf("client authentication failed"))
	}

	payload, err := ti.codeIssuer.Open(ctx, req.Code)
	if err != nil {
		ti.rejectGrant(req, "undecryptable")
		return nil, stepClientAuthenticated, err
	}
	if payload.ClientID != req.ClientID || payload.RedirectURL != req.RedirectURL {
		ti.rejectGrant(req, "payload_mismatch")
		return nil, stepClientAuthenticated, newError(KindInvalidGrant, ErrorCodeInvalidGrant, storage.ErrAuthorizationCodeMismatch)
	}

	// From here on a redeemed code must yield a token even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	record, err := ti.codes.ConsumeAuthorizationCode(ctx, req.Code, req.ClientID, req.RedirectURL, now)
	if err != nil {
		if !storage.IsInvalidGrant(err) {
			return nil, stepClientAuthenticated, newError(KindInternal, ErrorCodeServerError, fmt.Errorf("failed to consume code: %w", err))
		}
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
			ti.logger.Warn("Authorization code reuse detected",
				"client_id", req.ClientID,
				"code_prefix", util.SafeTruncate(req.Code, codeLogLength))
			ti.auditor.LogCodeReuse(payload.User, req.ClientID, req.ClientIP, util.SafeTruncate(req.Code, codeLogLength))
			ti.metrics.RecordCodeReuse(ctx, req.ClientID)
		}
		ti.rejectGrant(req, grantFailureReason(err))
		return nil, stepClientAuthenticated, newError(KindInvalidGrant, ErrorCodeInvalidGrant, err)
	}

	issued, err := ti.sign(payload.User, record.ClientID, now)
	if err != nil {
		return nil, stepCodeValidated, newError(KindInternal, ErrorCodeServerError, err)
	}

	ti.auditor.LogTokenIssued(payload.User, req.ClientID, req.ClientIP, issued.Payload.ID)
	return issued, stepCodeValidated, nil
}

func (ti *TokenIssuer) sign(user, clientID string, now time.Time) (*IssuedToken, error) {
	payload := AccessTokenPayload{
		User:      user,
		Issuer:    ti.signer.Issuer(),
		ClientID:  clientID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ti.ttl),
		ID:        uuid.NewString(),
	}

	accessToken, err := ti.signer.Sign(security.AccessTokenClaims{
		Claims: jwt.Claims{
			Subject:   payload.User,
			Issuer:    payload.Issuer,
			Audience:  jwt.Audience{payload.ClientID},
			IssuedAt:  jwt.NewNumericDate(payload.IssuedAt),
			NotBefore: jwt.NewNumericDate(payload.IssuedAt),
			Expiry:    jwt.NewNumericDate(payload.ExpiresAt),
			ID:        payload.ID,
		},
		ClientID: payload.ClientID,
	})
	if err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token: &oauth2.Token{
			AccessToken: accessToken,
			TokenType:   TokenTypeBearer,
			Expiry:      payload.ExpiresAt,
		},
		ExpiresIn: int64(ti.ttl / time.Second),
		Payload:   payload,
	}, nil
}

// rejectGrant logs the internal reason for an invalid grant. The caller only
// ever sees the generic description.
func (ti *TokenIssuer) rejectGrant(req ExchangeRequest, reason string) {
	ti.logger.Debug("Authorization code validation failed",
		"reason", reason,
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(req.Code, codeLogLength))
	ti.auditor.LogInvalidGrant(req.ClientID, req.ClientIP, reason)
}

func grantFailureReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrAuthorizationCodeExpired):
		return "expired"
	case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		return "already_used"
	case errors.Is(err, storage.ErrAuthorizationCodeMismatch):
		return "mismatch"
	case errors.Is(err, security.ErrDecrypt):
		return "undecryptable"
	default:
		return "unknown"
	}
}
