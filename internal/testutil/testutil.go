package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/storage"
)

// Fixture values used by the end-to-end scenarios.
const (
	TestClientID     = "c1"
	TestClientSecret = "s1"
	TestRedirectURL  = "https://app/cb"
	TestUser         = "alice"
	TestPassword     = "wonderland"
	TestIssuer       = "https://auth.example.com"
)

// MockClock is a controllable, concurrency-safe clock for deterministic tests
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a clock frozen at t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// NewTestClient returns a client whose secret is hashed with the minimum bcrypt cost
func NewTestClient(t testing.TB, clientID, secret, redirectURL string) *storage.Client {
	t.Helper()
	hash, err := storage.HashClientSecret(secret, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	return &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: hash,
		RedirectURL:      redirectURL,
		ClientName:       "Test Client " + clientID,
		CreatedAt:        time.Now(),
	}
}

// DefaultTestClient returns the c1/s1/https://app/cb client
func DefaultTestClient(t testing.TB) *storage.Client {
	t.Helper()
	return NewTestClient(t, TestClientID, TestClientSecret, TestRedirectURL)
}

// HashPassword hashes a user password with the minimum bcrypt cost
func HashPassword(t testing.TB, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}
	return string(hash)
}

// TestKey returns a fresh 32-byte key
func TestKey(t testing.TB) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return key
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}
