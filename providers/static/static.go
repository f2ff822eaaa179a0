// Package static provides a CredentialVerifier backed by a fixed table of bcrypt hashes.
package static

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/providers"
)

// dummyPasswordHash is compared against for unknown users so they cost the same
// bcrypt work as a wrong password.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// User is one entry of the user table
type User struct {
	Name         string `yaml:"name" json:"name"`
	PasswordHash string `yaml:"password_hash" json:"password_hash"`
	DisplayName  string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
}

// Verifier checks passwords against an immutable user table
type Verifier struct {
	users  map[string]User
	logger *slog.Logger
}

var _ providers.CredentialVerifier = (*Verifier)(nil)

// New builds a verifier. Every user needs a name and a valid bcrypt hash.
func New(users []User, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table := make(map[string]User, len(users))
	for i, u := range users {
		if u.Name == "" {
			return nil, fmt.Errorf("user %d: name is required", i)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid password hash: %w", u.Name, err)
		}
		if _, exists := table[u.Name]; exists {
			return nil, fmt.Errorf("user %q: duplicate entry", u.Name)
		}
		table[u.Name] = u
	}

	logger.Debug("Loaded static user table", "users", len(table))
	return &Verifier{users: table, logger: logger}, nil
}

// VerifyUser implements providers.CredentialVerifier
func (v *Verifier) VerifyUser(_ context.Context, user, password string) (*providers.UserInfo, error) {
	u, ok := v.users[user]
	hash := dummyPasswordHash
	if ok {
		hash = u.PasswordHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if !ok || err != nil {
		return nil, providers.ErrInvalidCredentials
	}

	return &providers.UserInfo{ID: u.Name, Name: u.DisplayName}, nil
}

// Len returns the number of users in the table
func (v *Verifier) Len() int {
	return len(v.users)
}
