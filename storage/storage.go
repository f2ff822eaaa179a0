package storage

import (
	"context"
	"time"
)

// ClientStore looks up and verifies registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient registers a client. Registering an existing client id is an error.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns ErrClientNotFound for unknown ids.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// VerifyRedirect reports whether the client exists and redirectURL is exactly
	// its registered redirect URL. No prefix matching and no normalization.
	VerifyRedirect(ctx context.Context, clientID, redirectURL string) bool

	// AuthenticateClient reports whether clientSecret is the client's secret.
	// Unknown clients take the same time to reject as a wrong secret.
	AuthenticateClient(ctx context.Context, clientID, clientSecret string) bool
}

// CodeStore tracks issued authorization codes until they are redeemed or expire.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code. If the code is already
	// present it returns ErrAuthorizationCodeExists and leaves the stored record untouched.
	SaveAuthorizationCode(ctx context.Context, code string, record *CodeRecord) error

	// ConsumeAuthorizationCode redeems a code in one atomic step. It succeeds only if the code
	// exists, now is before its expiry, it was not consumed before, and it was issued to
	// clientID for redirectURL. On success the code is marked consumed and a copy of the
	// record is returned. Failures return ErrAuthorizationCodeNotFound,
	// ErrAuthorizationCodeExpired, ErrAuthorizationCodeUsed or ErrAuthorizationCodeMismatch.
	// A mismatch does not consume the code.
	//
	// SECURITY: among any number of concurrent calls for the same code at most one succeeds.
	ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*CodeRecord, error)
}

// Client represents a registered OAuth client
type Client struct {
	ClientID         string    `json:"client_id" yaml:"client_id"`
	ClientSecretHash string    `json:"client_secret_hash" yaml:"client_secret_hash"` // bcrypt hash
	RedirectURL      string    `json:"redirect_url" yaml:"redirect_url"`
	ClientName       string    `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// CodeRecord is the server-side state of an issued authorization code.
type CodeRecord struct {
	ClientID    string    `json:"client_id"`
	RedirectURL string    `json:"redirect_url"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Consumed    bool      `json:"consumed"`
}

// Matches reports whether the record was issued to clientID for redirectURL.
func (r *CodeRecord) Matches(clientID, redirectURL string) bool {
	return r.ClientID == clientID && r.RedirectURL == redirectURL
}
