package oauth

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription is the generic description of the error kind
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents a successful /token response
type TokenResponse struct {
	// AccessToken is the signed access token
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// authorizeCredentials is the /auth request body
type authorizeCredentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// tokenRequest is the /token request body. The code travels as "authorizationCode".
type tokenRequest struct {
	GrantType         string `json:"grant_type"`
	AuthorizationCode string `json:"authorizationCode"`
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"client_secret"`
	RedirectURL       string `json:"redirect_url"`
}
