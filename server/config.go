package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/oauth-codegrant/security"
)

const (
	// DefaultAuthorizationCodeTTL is the authorization code lifetime in seconds
	DefaultAuthorizationCodeTTL = 60

	// DefaultAccessTokenTTL is the access token lifetime in seconds
	DefaultAccessTokenTTL = 3600

	// maxRecommendedCodeTTL is the longest code lifetime accepted without a warning (RFC 6749 4.1.2)
	maxRecommendedCodeTTL = 600
)

// Config holds OAuth server configuration. It is not modified after New.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Required.
	// It is the "iss" claim of every access token.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 60

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600

	// AllowInsecureHTTP permits a non-localhost http:// issuer.
	// WARNING: codes and tokens then travel in clear text.
	// Default: false
	AllowInsecureHTTP bool

	// Clock supplies the current time for every expiry decision.
	// Default: security.SystemClock
	Clock security.Clock
}

// CodeLifeSpan returns AuthorizationCodeTTL as a duration
func (c *Config) CodeLifeSpan() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// TokenLifeSpan returns AccessTokenTTL as a duration
func (c *Config) TokenLifeSpan() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// applySecureDefaults fills in defaults and logs warnings for weak settings
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.Clock == nil {
		config.Clock = security.SystemClock{}
	}

	if config.AuthorizationCodeTTL > maxRecommendedCodeTTL {
		logger.Warn("SECURITY WARNING: authorization code lifetime is long",
			"authorization_code_ttl", config.AuthorizationCodeTTL,
			"recommended_max", maxRecommendedCodeTTL,
			"risk", "A leaked code stays redeemable for longer")
	}
	if config.AllowInsecureHTTP {
		logger.Warn("SECURITY WARNING: insecure HTTP issuer allowed",
			"issuer", config.Issuer,
			"risk", "Authorization codes and access tokens can be intercepted")
	}

	return config
}

// validate checks the configuration after defaults were applied
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.AuthorizationCodeTTL < 0 {
		return fmt.Errorf("authorization code TTL must be positive, got %d", c.AuthorizationCodeTTL)
	}
	if c.AccessTokenTTL < 0 {
		return fmt.Errorf("access token TTL must be positive, got %d", c.AccessTokenTTL)
	}
	return c.validateHTTPSEnforcement()
}

// validateHTTPSEnforcement requires an https issuer unless it points at localhost
// or AllowInsecureHTTP is set.
func (c *Config) validateHTTPSEnforcement() error {
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", c.Issuer)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("issuer must not contain a query or fragment")
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalhostHostname(u.Hostname()) || c.AllowInsecureHTTP {
			return nil
		}
		return fmt.Errorf("issuer must use https (got %q); set AllowInsecureHTTP for development", c.Issuer)
	default:
		return fmt.Errorf("issuer scheme must be http or https, got %q", u.Scheme)
	}
}

func isLocalhostHostname(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}
