package server

import (
	"context"
	"testing"
	"time"

	"github.com/giantswarm/oauth-codegrant/internal/testutil"
	providermock "github.com/giantswarm/oauth-codegrant/providers/mock"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
	"github.com/giantswarm/oauth-codegrant/storage/memory"
)

var testEpoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server   *Server
	store    *memory.Store
	clock    *testutil.MockClock
	verifier *providermock.MockVerifier
}

// newTestEnv builds a server with the c1/s1/https://app/cb client, the user
// alice/wonderland and a clock frozen at testEpoch.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

func newTestEnvWithStore(t *testing.T, codes storage.CodeStore) *testEnv {
	t.Helper()

	clock := testutil.NewMockClock(testEpoch)
	store := memory.New()
	store.SetClock(clock)
	t.Cleanup(store.Stop)
	if err := store.SaveClient(context.Background(), testutil.DefaultTestClient(t)); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.SaveClient(context.Background(), testutil.NewTestClient(t, "c2", "s2", "https://other/cb")); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if codes == nil {
		codes = store
	}

	cipher, err := security.NewSecretCipher(testutil.TestKey(t))
	if err != nil {
		t.Fatalf("NewSecretCipher() error = %v", err)
	}
	signer, err := security.NewTokenSigner(testutil.TestIssuer, nil)
	if err != nil {
		t.Fatalf("NewTokenSigner() error = %v", err)
	}

	verifier := providermock.NewMockVerifier(testutil.TestUser, testutil.TestPassword)

	srv, err := New(store, codes, verifier, cipher, signer, &Config{
		Issuer: testutil.TestIssuer,
		Clock:  clock,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{server: srv, store: store, clock: clock, verifier: verifier}
}

func validAuthorizeRequest() AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     testutil.TestClientID,
		RedirectURL:  testutil.TestRedirectURL,
		User:         testutil.TestUser,
		Password:     testutil.TestPassword,
	}
}

func tokenRequestFor(code string) TokenRequest {
	return TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
		RedirectURL:  testutil.TestRedirectURL,
	}
}

// issueCode runs a successful authorization and returns the code.
func (e *testEnv) issueCode(t *testing.T) string {
	t.Helper()
	res, err := e.server.Authorize(context.Background(), validAuthorizeRequest())
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return res.Code
}

// requireError asserts err is an *Error with the given kind, code and state.
func requireError(t *testing.T, err error, kind Kind, code, state string) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", code)
	}
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if e.Kind != kind {
		t.Errorf("Kind = %v, want %v", e.Kind, kind)
	}
	if e.Code != code {
		t.Errorf("Code = %q, want %q", e.Code, code)
	}
	if e.State != state {
		t.Errorf("State = %q, want %q", e.State, state)
	}
	if e.Description != kind.Description() {
		t.Errorf("Description = %q, want %q", e.Description, kind.Description())
	}
}
