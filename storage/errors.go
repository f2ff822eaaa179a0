package storage

import "errors"

var (
	// ErrClientNotFound is returned when a client id is not registered.
	ErrClientNotFound = errors.New("client not found")

	// ErrClientExists is returned when registering a client id twice.
	ErrClientExists = errors.New("client already registered")

	// ErrAuthorizationCodeNotFound is returned for codes that were never issued or have been swept.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExpired is returned for codes presented at or after their expiry.
	ErrAuthorizationCodeExpired = errors.New("authorization code expired")

	// ErrAuthorizationCodeUsed is returned when a consumed code is presented again.
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrAuthorizationCodeMismatch is returned when a code is presented by a different
	// client or with a different redirect URL than it was issued for.
	ErrAuthorizationCodeMismatch = errors.New("authorization code issued to a different client or redirect URL")

	// ErrAuthorizationCodeExists is returned when saving a code that is already stored.
	ErrAuthorizationCodeExists = errors.New("authorization code already exists")
)

// IsInvalidGrant reports whether err is one of the code redemption failures that
// the token endpoint reports as invalid_grant.
func IsInvalidGrant(err error) bool {
	return errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrAuthorizationCodeExpired) ||
		errors.Is(err, ErrAuthorizationCodeUsed) ||
		errors.Is(err, ErrAuthorizationCodeMismatch)
}
