package security

// Event type constants for security audit logging.
const (
	// Authorization endpoint events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventInvalidRedirect is logged when a client id and redirect URL pair is not registered
	EventInvalidRedirect = "invalid_redirect"

	// EventUserAuthFailure is logged when the resource owner's credentials are rejected
	EventUserAuthFailure = "user_auth_failure"

	// Token endpoint events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventInvalidGrant is logged when an authorization code is rejected at the token endpoint
	EventInvalidGrant = "invalid_grant"

	// EventAuthorizationCodeReuseDetected is logged when a consumed authorization code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventUnsupportedGrantType is logged when a grant other than authorization_code is requested
	EventUnsupportedGrantType = "unsupported_grant_type"

	// Operational events

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidAccessToken is logged when a bearer token fails validation
	EventInvalidAccessToken = "invalid_access_token" //nolint:gosec // G101: event type name, not a credential
)
