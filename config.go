package oauth

import (
	"log/slog"

	"github.com/giantswarm/oauth-codegrant/security"
)

// DefaultMaxBodyBytes bounds /auth and /token request bodies
const DefaultMaxBodyBytes = 64 << 10

// Endpoint paths served by RegisterRoutes
const (
	AuthorizationPath               = "/auth"
	TokenPath                       = "/token"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	JWKSPath                        = "/.well-known/jwks.json"
)

// HandlerConfig holds the HTTP layer configuration. The protocol itself is
// configured on server.Config.
type HandlerConfig struct {
	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of this server.
	// Default: 1
	TrustedProxyCount int

	// RateLimiter limits /auth and /token requests per client IP. Nil disables limiting.
	RateLimiter *security.RateLimiter

	// MaxBodyBytes limits request bodies. Default: DefaultMaxBodyBytes
	MaxBodyBytes int64

	// HTTPTracing wraps the routes in an otelhttp handler. Only useful when the
	// server has instrumentation.
	HTTPTracing bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

func (c *HandlerConfig) applyDefaults() {
	if c.TrustedProxyCount <= 0 {
		c.TrustedProxyCount = 1
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
