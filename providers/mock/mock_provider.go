// Package mock provides a mock CredentialVerifier for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth-codegrant/providers"
)

// MockVerifier is a mock implementation of providers.CredentialVerifier
type MockVerifier struct {
	// VerifyUserFunc is called when VerifyUser() is invoked
	VerifyUserFunc func(ctx context.Context, user, password string) (*providers.UserInfo, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var _ providers.CredentialVerifier = (*MockVerifier)(nil)

// NewMockVerifier creates a verifier that accepts exactly the given user and password
func NewMockVerifier(user, password string) *MockVerifier {
	return &MockVerifier{
		CallCounts: make(map[string]int),
		VerifyUserFunc: func(ctx context.Context, u, p string) (*providers.UserInfo, error) {
			if u != user || p != password {
				return nil, providers.ErrInvalidCredentials
			}
			return &providers.UserInfo{ID: u}, nil
		},
	}
}

// VerifyUser calls VerifyUserFunc
func (m *MockVerifier) VerifyUser(ctx context.Context, user, password string) (*providers.UserInfo, error) {
	m.mu.Lock()
	m.CallCounts["VerifyUser"]++
	m.mu.Unlock()
	return m.VerifyUserFunc(ctx, user, password)
}

// Calls returns how many times method was invoked
func (m *MockVerifier) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
