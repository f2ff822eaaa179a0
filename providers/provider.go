package providers

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned when the user does not exist or the password is wrong.
// Implementations never distinguish the two.
var ErrInvalidCredentials = errors.New("invalid user credentials")

// CredentialVerifier authenticates the resource owner at the authorization endpoint.
type CredentialVerifier interface {
	// VerifyUser checks user's password. It returns ErrInvalidCredentials for an
	// unknown user or a wrong password, and any other error for backend failures.
	VerifyUser(ctx context.Context, user, password string) (*UserInfo, error)
}

// UserInfo is the authenticated resource owner
type UserInfo struct {
	// ID is the stable user identifier placed in the access token subject
	ID string

	// Name is an optional display name
	Name string
}
