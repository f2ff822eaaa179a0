// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// MockClientStore is a mock implementation of ClientStore for testing
type MockClientStore struct {
	mu                     sync.RWMutex
	clients                map[string]*storage.Client
	SaveClientFunc         func(ctx context.Context, client *storage.Client) error
	GetClientFunc          func(ctx context.Context, clientID string) (*storage.Client, error)
	VerifyRedirectFunc     func(ctx context.Context, clientID, redirectURL string) bool
	AuthenticateClientFunc func(ctx context.Context, clientID, clientSecret string) bool
	CallCounts             map[string]int
}

var _ storage.ClientStore = (*MockClientStore)(nil)

// NewMockClientStore creates a new mock client store backed by a map
func NewMockClientStore() *MockClientStore {
	m := &MockClientStore{
		clients:    make(map[string]*storage.Client),
		CallCounts: make(map[string]int),
	}

	m.SaveClientFunc = func(ctx context.Context, client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.clients[client.ClientID]; ok {
			return storage.ErrClientExists
		}
		c := *client
		m.clients[client.ClientID] = &c
		return nil
	}

	m.GetClientFunc = func(ctx context.Context, clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		c := *client
		return &c, nil
	}

	m.VerifyRedirectFunc = func(ctx context.Context, clientID, redirectURL string) bool {
		client, err := m.GetClientFunc(ctx, clientID)
		return err == nil && redirectURL != "" && client.RedirectURL == redirectURL
	}

	m.AuthenticateClientFunc = func(ctx context.Context, clientID, clientSecret string) bool {
		client, err := m.GetClientFunc(ctx, clientID)
		if err != nil {
			client = nil
		}
		return storage.CompareClientSecret(client, clientSecret)
	}

	return m
}

func (m *MockClientStore) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// Calls returns how many times method was invoked
func (m *MockClientStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// SaveClient calls SaveClientFunc
func (m *MockClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// GetClient calls GetClientFunc
func (m *MockClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// VerifyRedirect calls VerifyRedirectFunc
func (m *MockClientStore) VerifyRedirect(ctx context.Context, clientID, redirectURL string) bool {
	m.count("VerifyRedirect")
	return m.VerifyRedirectFunc(ctx, clientID, redirectURL)
}

// AuthenticateClient calls AuthenticateClientFunc
func (m *MockClientStore) AuthenticateClient(ctx context.Context, clientID, clientSecret string) bool {
	m.count("AuthenticateClient")
	return m.AuthenticateClientFunc(ctx, clientID, clientSecret)
}

// MockCodeStore is a mock implementation of CodeStore for testing
type MockCodeStore struct {
	mu                           sync.Mutex
	codes                        map[string]*storage.CodeRecord
	SaveAuthorizationCodeFunc    func(ctx context.Context, code string, record *storage.CodeRecord) error
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error)
	CallCounts                   map[string]int
}

var _ storage.CodeStore = (*MockCodeStore)(nil)

// NewMockCodeStore creates a new mock code store with map-backed defaults that
// follow the CodeStore contract
func NewMockCodeStore() *MockCodeStore {
	m := &MockCodeStore{
		codes:      make(map[string]*storage.CodeRecord),
		CallCounts: make(map[string]int),
	}

	m.SaveAuthorizationCodeFunc = func(ctx context.Context, code string, record *storage.CodeRecord) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.codes[code]; ok {
			return storage.ErrAuthorizationCodeExists
		}
		r := *record
		m.codes[code] = &r
		return nil
	}

	m.ConsumeAuthorizationCodeFunc = func(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		record, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		if security.IsExpired(now, record.ExpiresAt) {
			delete(m.codes, code)
			return nil, storage.ErrAuthorizationCodeExpired
		}
		if record.Consumed {
			r := *record
			return &r, storage.ErrAuthorizationCodeUsed
		}
		if !record.Matches(clientID, redirectURL) {
			return nil, storage.ErrAuthorizationCodeMismatch
		}
		record.Consumed = true
		r := *record
		return &r, nil
	}

	return m
}

func (m *MockCodeStore) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// Calls returns how many times method was invoked
func (m *MockCodeStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

// SaveAuthorizationCode calls SaveAuthorizationCodeFunc
func (m *MockCodeStore) SaveAuthorizationCode(ctx context.Context, code string, record *storage.CodeRecord) error {
	m.count("SaveAuthorizationCode")
	return m.SaveAuthorizationCodeFunc(ctx, code, record)
}

// ConsumeAuthorizationCode calls ConsumeAuthorizationCodeFunc
func (m *MockCodeStore) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error) {
	m.count("ConsumeAuthorizationCode")
	return m.ConsumeAuthorizationCodeFunc(ctx, code, clientID, redirectURL, now)
}
