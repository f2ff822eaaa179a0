package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/providers"
)

// ResponseTypeCode is the only supported response type
const ResponseTypeCode = "code"

// AuthorizeState is a state of the authorization endpoint machine.
type AuthorizeState int

// Authorization endpoint states. The last four are terminal failures.
const (
	AuthorizeStart AuthorizeState = iota
	AuthorizeClientValidated
	AuthorizeUserAuthenticated
	AuthorizeCodeIssued
	AuthorizeRejectedRequest
	AuthorizeRejectedClient
	AuthorizeRejectedCredentials
	AuthorizeFailed
)

func (s AuthorizeState) String() string {
	switch s {
	case AuthorizeStart:
		return "START"
	case AuthorizeClientValidated:
		return "CLIENT_VALIDATED"
	case AuthorizeUserAuthenticated:
		return "USER_AUTHENTICATED"
	case AuthorizeCodeIssued:
		return "CODE_ISSUED"
	case AuthorizeRejectedRequest:
		return "REJECTED_REQUEST"
	case AuthorizeRejectedClient:
		return "REJECTED_CLIENT"
	case AuthorizeRejectedCredentials:
		return "REJECTED_CREDENTIALS"
	case AuthorizeFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("AuthorizeState(%d)", int(s))
	}
}

// TokenState is a state of the token endpoint machine.
type TokenState int

// Token endpoint states. The last four are terminal failures.
const (
	TokenStart TokenState = iota
	TokenClientAuthenticated
	TokenCodeValidated
	TokenIssued
	TokenRejectedRequest
	TokenRejectedClient
	TokenRejectedGrant
	TokenFailed
)

func (s TokenState) String() string {
	switch s {
	case TokenStart:
		return "START"
	case TokenClientAuthenticated:
		return "CLIENT_AUTHENTICATED"
	case TokenCodeValidated:
		return "CODE_VALIDATED"
	case TokenIssued:
		return "TOKEN_ISSUED"
	case TokenRejectedRequest:
		return "REJECTED_REQUEST"
	case TokenRejectedClient:
		return "REJECTED_CLIENT"
	case TokenRejectedGrant:
		return "REJECTED_GRANT"
	case TokenFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("TokenState(%d)", int(s))
	}
}

// AuthorizeRequest holds the authorization endpoint parameters.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURL  string
	User         string
	Password     string

	// ClientIP is used for audit logging only
	ClientIP string
}

// AuthorizeResult is a successful authorization.
type AuthorizeResult struct {
	State AuthorizeState
	Code  string

	// Location is RedirectURL with the code added to its query
	Location string

	ExpiresAt time.Time
}

// TokenRequest holds the token endpoint parameters.
type TokenRequest = ExchangeRequest

// TokenResult is a successful code exchange.
type TokenResult struct {
	State TokenState
	Token *IssuedToken
}

// Authorize runs the authorization endpoint machine:
// START -> CLIENT_VALIDATED -> USER_AUTHENTICATED -> CODE_ISSUED.
//
// Client existence and redirect URL are one check, so an unknown client and a
// wrong redirect URL are indistinguishable.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.authorize",
		trace.WithAttributes(attribute.String(instrumentation.AttrResponseType, util.SafeTruncate(req.ResponseType, 32))))
	defer span.End()

	state := AuthorizeStart
	fail := func(next AuthorizeState, err *Error) (*AuthorizeResult, error) {
		err.State = next.String()
		instrumentation.AddFlowAttributes(span, req.ClientID, "", err.State)
		if next == AuthorizeFailed {
			instrumentation.RecordError(span, err)
			s.Logger.Error("Authorization request failed", "client_id", req.ClientID, "error", err)
		} else {
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, err.Code))
			s.Logger.Debug("Authorization request rejected",
				"client_id", req.ClientID,
				"from_state", state.String(),
				"state", err.State,
				"error", err.Code)
		}
		s.metrics.RecordAuthorizeRejected(ctx, err.State)
		return nil, err
	}

	if req.ResponseType != ResponseTypeCode {
		return fail(AuthorizeRejectedRequest, newError(KindInvalidRequest, ErrorCodeUnsupportedResponseType,
			fmt.Errorf("unsupported response type %q", util.SafeTruncate(req.ResponseType, 32))))
	}
	if req.ClientID == "" || req.RedirectURL == "" {
		return fail(AuthorizeRejectedRequest, newError(KindInvalidRequest, ErrorCodeInvalidRequest,
			fmt.Errorf("missing client_id or redirect_url")))
	}

	if !s.clients.VerifyRedirect(ctx, req.ClientID, req.RedirectURL) {
		s.Auditor.LogInvalidRedirect(req.ClientID, req.RedirectURL, req.ClientIP)
		return fail(AuthorizeRejectedClient, newError(KindInvalidClient, ErrorCodeInvalidClient,
			fmt.Errorf("unknown client or unregistered redirect URL")))
	}
	state = AuthorizeClientValidated

	user, err := s.verifier.VerifyUser(ctx, req.User, req.Password)
	if err != nil {
		if !errors.Is(err, providers.ErrInvalidCredentials) {
			return fail(AuthorizeFailed, newError(KindInternal, ErrorCodeServerError, fmt.Errorf("credential verification failed: %w", err)))
		}
		s.Auditor.LogUserAuthFailure(req.User, req.ClientID, req.ClientIP)
		return fail(AuthorizeRejectedCredentials, newError(KindInvalidCredentials, ErrorCodeAccessDenied, err))
	}
	state = AuthorizeUserAuthenticated

	now := s.Now()
	code, err := s.CodeIssuer.Issue(ctx, user.ID, req.ClientID, req.RedirectURL, now)
	if err != nil {
		return fail(AuthorizeFailed, asError(err))
	}

	location, err := util.AddQueryParam(req.RedirectURL, "code", code)
	if err != nil {
		return fail(AuthorizeFailed, newError(KindInternal, ErrorCodeServerError, fmt.Errorf("failed to build redirect: %w", err)))
	}
	state = AuthorizeCodeIssued

	s.Auditor.LogCodeIssued(user.ID, req.ClientID, req.ClientIP, util.SafeTruncate(code, codeLogLength))
	s.metrics.RecordCodeIssued(ctx, req.ClientID)
	instrumentation.AddFlowAttributes(span, req.ClientID, user.ID, state.String())
	instrumentation.SetSpanSuccess(span)
	s.Logger.Info("Issued authorization code",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	return &AuthorizeResult{
		State:     state,
		Code:      code,
		Location:  location,
		ExpiresAt: now.Add(s.CodeIssuer.TTL()),
	}, nil
}

// Token runs the token endpoint machine:
// START -> CLIENT_AUTHENTICATED -> CODE_VALIDATED -> TOKEN_ISSUED.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.token",
		trace.WithAttributes(attribute.String(instrumentation.AttrGrantType, util.SafeTruncate(req.GrantType, 32))))
	defer span.End()

	issued, step, err := s.TokenIssuer.exchange(ctx, req, s.Now())
	if err != nil {
		e := asError(err)
		var state TokenState
		switch e.Kind {
		case KindInvalidRequest:
			state = TokenRejectedRequest
		case KindInvalidClient:
			state = TokenRejectedClient
		case KindInvalidGrant:
			state = TokenRejectedGrant
		default:
			state = TokenFailed
		}
		e.State = state.String()

		instrumentation.AddFlowAttributes(span, req.ClientID, "", e.State)
		if state == TokenFailed {
			instrumentation.RecordError(span, e)
			s.Logger.Error("Token request failed", "client_id", req.ClientID, "error", e)
		} else {
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, e.Code))
			s.Logger.Debug("Token request rejected",
				"client_id", req.ClientID,
				"from_state", stepState(step).String(),
				"state", e.State,
				"error", e.Code)
		}
		s.metrics.RecordTokenRejected(ctx, e.State, rejectionReason(e))
		return nil, e
	}

	instrumentation.AddFlowAttributes(span, req.ClientID, issued.Payload.User, TokenIssued.String())
	instrumentation.SetSpanAttributes(span, attribute.Int64(instrumentation.AttrExpiresIn, issued.ExpiresIn))
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordTokenIssued(ctx, req.ClientID)
	s.Logger.Info("Issued access token",
		"client_id", req.ClientID,
		"jti", issued.Payload.ID)

	return &TokenResult{State: TokenIssued, Token: issued}, nil
}

func stepState(step exchangeStep) TokenState {
	switch step {
	case stepClientAuthenticated:
		return TokenClientAuthenticated
	case stepCodeValidated:
		return TokenCodeValidated
	default:
		return TokenStart
	}
}

// rejectionReason is the metric label for a failed exchange. It is never sent to the client.
func rejectionReason(e *Error) string {
	if e.Kind == KindInvalidGrant {
		return grantFailureReason(e)
	}
	return e.Code
}
