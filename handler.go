package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/server"
)

const (
	httpSpanName          = "authserver"
	contentTypeForm       = "application/x-www-form-urlencoded"
	rateLimitRetryAfter   = "60"
	jwksCacheControlValue = "public, max-age=300"
)

// Handler is a thin HTTP adapter for the Server.
// It parses requests, delegates to the endpoint machines and writes responses.
// It contains no protocol decisions of its own.
type Handler struct {
	server *Server
	config HandlerConfig
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler. Instrumentation must be set on the
// server before the handler is created.
func NewHandler(srv *Server, config *HandlerConfig) *Handler {
	cfg := HandlerConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()

	h := &Handler{
		server: srv,
		config: cfg,
		logger: cfg.Logger,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	return h
}

// RegisterRoutes registers the authorization server endpoints on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(AuthorizationPath, h.ServeAuthorization)
	mux.HandleFunc(TokenPath, h.ServeToken)
	mux.HandleFunc(AuthorizationServerMetadataPath, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(JWKSPath, h.ServeJWKS)
}

// Routes returns every endpoint behind the request id and security header
// middlewares, wrapped in otelhttp when HTTPTracing is enabled.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	handler := security.RequestIDMiddleware(security.SecurityHeadersMiddleware(h.server.Config.Issuer, mux))

	inst := h.server.Instrumentation
	if !h.config.HTTPTracing || inst == nil {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName,
		otelhttp.WithTracerProvider(inst.TracerProvider()),
		otelhttp.WithMeterProvider(inst.MeterProvider()),
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

// ServeAuthorization handles POST /auth. Client id, redirect URL and response
// type come from the query, the resource owner's credentials from the body
// (JSON or form encoded). Success is a 303 to the redirect URL with the code.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorize")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	h.addClientIPAttribute(span, clientIP)
	if h.checkRateLimit(w, r, clientIP, "authorize") {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	creds, err := h.decodeCredentials(w, r)
	if err != nil {
		h.logger.Debug("Malformed authorization request body", "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "malformed body")
		h.writeError(w, server.ErrorCodeInvalidRequest, server.KindInvalidRequest.Description(), http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	res, err := h.server.Authorize(ctx, server.AuthorizeRequest{
		ResponseType: query.Get("response_type"),
		ClientID:     query.Get("client_id"),
		RedirectURL:  query.Get("redirect_url"),
		User:         creds.User,
		Password:     creds.Password,
		ClientIP:     clientIP,
	})
	if err != nil {
		status := h.writeServerError(w, err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, status, startTime)
		instrumentation.SetSpanError(span, "authorization rejected")
		return
	}

	security.SetNoStore(w)
	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusSeeOther, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, res.Location, http.StatusSeeOther)
}

// ServeToken handles POST /token. The body is JSON with the code in
// "authorizationCode"; form bodies with "code" and Basic client credentials are
// also accepted so standard OAuth2 clients can redeem codes.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	h.addClientIPAttribute(span, clientIP)
	if h.checkRateLimit(w, r, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	req, err := h.decodeTokenRequest(w, r)
	if err != nil {
		h.logger.Debug("Malformed token request body", "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "malformed body")
		h.writeError(w, server.ErrorCodeInvalidRequest, server.KindInvalidRequest.Description(), http.StatusBadRequest)
		return
	}

	res, err := h.server.Token(ctx, server.TokenRequest{
		GrantType:    req.GrantType,
		Code:         req.AuthorizationCode,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURL:  req.RedirectURL,
		ClientIP:     clientIP,
	})
	if err != nil {
		status := h.writeServerError(w, err)
		h.recordHTTPMetrics(ctx, "token", r.Method, status, startTime)
		instrumentation.SetSpanError(span, "token request rejected")
		return
	}

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, res.Token)
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")
	metadata := AuthorizationServerMetadata{
		Issuer:                            h.server.Config.Issuer,
		AuthorizationEndpoint:             issuer + AuthorizationPath,
		TokenEndpoint:                     issuer + TokenPath,
		JWKSURI:                           issuer + JWKSPath,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantTypeAuthorizationCode},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic"},
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// ServeJWKS serves the public key that verifies access tokens
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", jwksCacheControlValue)
	_ = json.NewEncoder(w).Encode(h.server.Signer().JWKS())
}

// ValidateToken is middleware that accepts requests carrying a valid access
// token issued by this server. The verified claims are available to next via
// ClaimsFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)

		if h.checkRateLimit(w, r, clientIP, "resource") {
			return
		}

		accessToken, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		claims, err := h.server.ValidateAccessToken(r.Context(), accessToken)
		if err != nil {
			h.logger.Warn("Token validation failed", "ip", clientIP, "error", err)
			h.server.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidAccessToken,
				IPAddress: clientIP,
				Details:   map[string]any{"expired": errors.Is(err, security.ErrTokenExpired)},
			})
			h.writeError(w, ErrorCodeInvalidToken, "Token validation failed", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeError(w, ErrorCodeInvalidToken, "Missing Authorization header", http.StatusUnauthorized)
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], server.TokenTypeBearer) || parts[1] == "" {
		h.writeError(w, ErrorCodeInvalidToken, "Invalid Authorization header format", http.StatusUnauthorized)
		return "", false
	}

	return parts[1], true
}

// decodeCredentials reads user and password from a JSON or form body.
// An empty body yields empty credentials, which the verifier rejects.
func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (authorizeCredentials, error) {
	var creds authorizeCredentials
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	if isFormRequest(r) {
		if err := r.ParseForm(); err != nil {
			return creds, fmt.Errorf("invalid form body: %w", err)
		}
		creds.User = r.PostForm.Get("user")
		creds.Password = r.PostForm.Get("password")
		return creds, nil
	}

	if err := decodeJSONBody(r.Body, &creds); err != nil {
		return creds, err
	}
	return creds, nil
}

// decodeTokenRequest reads a JSON or form token request. Basic credentials fill
// in the client id and secret when the body carries none.
func (h *Handler) decodeTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	if isFormRequest(r) {
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("invalid form body: %w", err)
		}
		form := r.PostForm
		req = tokenRequest{
			GrantType:         form.Get("grant_type"),
			AuthorizationCode: firstNonEmpty(form.Get("authorizationCode"), form.Get("code")),
			ClientID:          form.Get("client_id"),
			ClientSecret:      form.Get("client_secret"),
			RedirectURL:       firstNonEmpty(form.Get("redirect_url"), form.Get("redirect_uri")),
		}
	} else if err := decodeJSONBody(r.Body, &req); err != nil {
		return req, err
	}

	if user, password, ok := r.BasicAuth(); ok && req.ClientID == "" && req.ClientSecret == "" {
		// RFC 6749 2.3.1: Basic credentials are form-encoded before base64
		if id, err := url.QueryUnescape(user); err == nil {
			user = id
		}
		if secret, err := url.QueryUnescape(password); err == nil {
			password = secret
		}
		req.ClientID, req.ClientSecret = user, password
	}
	return req, nil
}

func decodeJSONBody(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}

func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == contentTypeForm
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *server.IssuedToken) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStore(w)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

func (h *Handler) addClientIPAttribute(span trace.Span, clientIP string) {
	if h.server.Instrumentation != nil && h.server.Instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}
}

// checkRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.config.RateLimiter == nil || h.config.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded",
		"ip", clientIP,
		"endpoint", endpoint,
		"request_id", security.GetRequestID(r.Context()))
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), endpoint)
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)

	w.Header().Set("Retry-After", rateLimitRetryAfter)
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	instrumentation.AddHTTPAttributes(span, method, endpoint, status)
	span.SetAttributes(attribute.String("http.request_id", security.GetRequestID(ctx)))

	duration := float64(time.Since(startTime).Microseconds()) / 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

type contextKey string

const claimsKey contextKey = "access_token_claims"

// ClaimsFromContext returns the access token claims stored by ValidateToken
func ClaimsFromContext(ctx context.Context) (*security.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*security.AccessTokenClaims)
	return claims, ok && claims != nil
}

// ContextWithClaims stores claims in ctx.
//
// WARNING: outside of tests, claims should only ever be set by ValidateToken
// after the token was verified.
func ContextWithClaims(ctx context.Context, claims *security.AccessTokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
