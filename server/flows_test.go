package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth-codegrant/internal/testutil"
	"github.com/giantswarm/oauth-codegrant/providers"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
	storagemock "github.com/giantswarm/oauth-codegrant/storage/mock"
)

func TestAuthorize_Success(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.server.Authorize(context.Background(), validAuthorizeRequest())
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if res.State != AuthorizeCodeIssued {
		t.Errorf("State = %v, want CODE_ISSUED", res.State)
	}
	if res.Code == "" {
		t.Fatal("Code is empty")
	}
	if !res.ExpiresAt.Equal(testEpoch.Add(60 * time.Second)) {
		t.Errorf("ExpiresAt = %v, want issued + 60s", res.ExpiresAt)
	}

	loc, err := url.Parse(res.Location)
	if err != nil {
		t.Fatalf("Location %q does not parse: %v", res.Location, err)
	}
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testutil.TestRedirectURL {
		t.Errorf("Location base = %q, want %q", got, testutil.TestRedirectURL)
	}
	if loc.Query().Get("code") != res.Code {
		t.Errorf("Location code = %q, want %q", loc.Query().Get("code"), res.Code)
	}

	if strings.Contains(res.Code, testutil.TestUser) {
		t.Error("code leaks the user name in clear")
	}
}

func TestAuthorize_CodesAreUnique(t *testing.T) {
	env := newTestEnv(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code := env.issueCode(t)
		if seen[code] {
			t.Fatalf("code %q issued twice", code)
		}
		seen[code] = true
	}
}

func TestAuthorize_PreservesRedirectQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.SaveClient(ctx, testutil.NewTestClient(t, "c3", "s3", "https://app/cb?tenant=7")); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	req := validAuthorizeRequest()
	req.ClientID = "c3"
	req.RedirectURL = "https://app/cb?tenant=7"
	res, err := env.server.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	loc, _ := url.Parse(res.Location)
	if loc.Query().Get("tenant") != "7" || loc.Query().Get("code") != res.Code {
		t.Errorf("Location = %q, want tenant and code parameters", res.Location)
	}
}

func TestAuthorize_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*AuthorizeRequest)
		wantKind  Kind
		wantCode  string
		wantState AuthorizeState
	}{
		{
			name:      "unsupported response type",
			modify:    func(r *AuthorizeRequest) { r.ResponseType = "token" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeUnsupportedResponseType,
			wantState: AuthorizeRejectedRequest,
		},
		{
			name:      "missing response type",
			modify:    func(r *AuthorizeRequest) { r.ResponseType = "" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeUnsupportedResponseType,
			wantState: AuthorizeRejectedRequest,
		},
		{
			name:      "missing client id",
			modify:    func(r *AuthorizeRequest) { r.ClientID = "" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeInvalidRequest,
			wantState: AuthorizeRejectedRequest,
		},
		{
			name:      "missing redirect url",
			modify:    func(r *AuthorizeRequest) { r.RedirectURL = "" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeInvalidRequest,
			wantState: AuthorizeRejectedRequest,
		},
		{
			name:      "unknown client",
			modify:    func(r *AuthorizeRequest) { r.ClientID = "c9" },
			wantKind:  KindInvalidClient,
			wantCode:  ErrorCodeInvalidClient,
			wantState: AuthorizeRejectedClient,
		},
		{
			name:      "unregistered redirect",
			modify:    func(r *AuthorizeRequest) { r.RedirectURL = "https://evil/cb" },
			wantKind:  KindInvalidClient,
			wantCode:  ErrorCodeInvalidClient,
			wantState: AuthorizeRejectedClient,
		},
		{
			name:      "redirect of another client",
			modify:    func(r *AuthorizeRequest) { r.RedirectURL = "https://other/cb" },
			wantKind:  KindInvalidClient,
			wantCode:  ErrorCodeInvalidClient,
			wantState: AuthorizeRejectedClient,
		},
		{
			name:      "wrong password",
			modify:    func(r *AuthorizeRequest) { r.Password = "nope" },
			wantKind:  KindInvalidCredentials,
			wantCode:  ErrorCodeAccessDenied,
			wantState: AuthorizeRejectedCredentials,
		},
		{
			name:      "unknown user",
			modify:    func(r *AuthorizeRequest) { r.User = "mallory" },
			wantKind:  KindInvalidCredentials,
			wantCode:  ErrorCodeAccessDenied,
			wantState: AuthorizeRejectedCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := validAuthorizeRequest()
			tt.modify(&req)

			res, err := env.server.Authorize(context.Background(), req)
			if res != nil {
				t.Errorf("Authorize() result = %+v, want nil", res)
			}
			requireError(t, err, tt.wantKind, tt.wantCode, tt.wantState.String())

			if env.store.Len() != 0 {
				t.Errorf("rejected request stored %d codes", env.store.Len())
			}
		})
	}
}

func TestAuthorize_ClientCheckedBeforeUser(t *testing.T) {
	env := newTestEnv(t)

	req := validAuthorizeRequest()
	req.RedirectURL = "https://evil/cb"
	_, err := env.server.Authorize(context.Background(), req)
	requireError(t, err, KindInvalidClient, ErrorCodeInvalidClient, AuthorizeRejectedClient.String())

	if env.verifier.Calls("VerifyUser") != 0 {
		t.Error("user credentials were checked for an invalid client")
	}
}

func TestAuthorize_VerifierFailure(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.VerifyUserFunc = func(ctx context.Context, user, password string) (*providers.UserInfo, error) {
		return nil, errors.New("connection refused")
	}

	_, err := env.server.Authorize(context.Background(), validAuthorizeRequest())
	requireError(t, err, KindInternal, ErrorCodeServerError, AuthorizeFailed.String())
}

func TestAuthorize_StoreFailure(t *testing.T) {
	codes := storagemock.NewMockCodeStore()
	codes.SaveAuthorizationCodeFunc = func(ctx context.Context, code string, record *storage.CodeRecord) error {
		return storage.ErrAuthorizationCodeExists
	}
	env := newTestEnvWithStore(t, codes)

	_, err := env.server.Authorize(context.Background(), validAuthorizeRequest())
	requireError(t, err, KindInternal, ErrorCodeServerError, AuthorizeFailed.String())
	if codes.Calls("SaveAuthorizationCode") != 1 {
		t.Errorf("SaveAuthorizationCode calls = %d, want 1", codes.Calls("SaveAuthorizationCode"))
	}
}

func TestToken_Success(t *testing.T) {
	env := newTestEnv(t)
	code := env.issueCode(t)

	res, err := env.server.Token(context.Background(), tokenRequestFor(code))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if res.State != TokenIssued {
		t.Errorf("State = %v, want TOKEN_ISSUED", res.State)
	}

	tok := res.Token
	if tok.TokenType != TokenTypeBearer {
		t.Errorf("TokenType = %q, want Bearer", tok.TokenType)
	}
	if tok.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", tok.ExpiresIn)
	}
	if !tok.Expiry.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, testEpoch.Add(time.Hour))
	}
	if tok.Payload.User != testutil.TestUser || tok.Payload.ClientID != testutil.TestClientID || tok.Payload.Issuer != testutil.TestIssuer {
		t.Errorf("Payload = %+v", tok.Payload)
	}

	claims, err := env.server.ValidateAccessToken(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != testutil.TestUser {
		t.Errorf("sub = %q, want %q", claims.Subject, testutil.TestUser)
	}
	if claims.ClientID != testutil.TestClientID || !claims.Audience.Contains(testutil.TestClientID) {
		t.Errorf("client claims = %q / %v", claims.ClientID, claims.Audience)
	}
	if claims.ID != tok.Payload.ID {
		t.Errorf("jti = %q, want %q", claims.ID, tok.Payload.ID)
	}
}

func TestToken_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	code := env.issueCode(t)

	if _, err := env.server.Token(context.Background(), tokenRequestFor(code)); err != nil {
		t.Fatalf("first Token() error = %v", err)
	}

	_, err := env.server.Token(context.Background(), tokenRequestFor(code))
	requireError(t, err, KindInvalidGrant, ErrorCodeInvalidGrant, TokenRejectedGrant.String())
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Errorf("cause = %v, want ErrAuthorizationCodeUsed", errors.Unwrap(err))
	}
}

func TestToken_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantErr bool
	}{
		{name: "just issued", advance: 0},
		{name: "one millisecond before expiry", advance: 60*time.Second - time.Millisecond},
		{name: "exactly at expiry", advance: 60 * time.Second, wantErr: true},
		{name: "one millisecond after expiry", advance: 60*time.Second + time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			code := env.issueCode(t)
			env.clock.Advance(tt.advance)

			_, err := env.server.Token(context.Background(), tokenRequestFor(code))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Token() error = %v", err)
				}
				return
			}
			requireError(t, err, KindInvalidGrant, ErrorCodeInvalidGrant, TokenRejectedGrant.String())
			if !errors.Is(err, storage.ErrAuthorizationCodeExpired) {
				t.Errorf("cause = %v, want ErrAuthorizationCodeExpired", errors.Unwrap(err))
			}
		})
	}
}

func TestToken_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*TokenRequest)
		wantKind  Kind
		wantCode  string
		wantState TokenState
	}{
		{
			name:      "refresh token grant",
			modify:    func(r *TokenRequest) { r.GrantType = "refresh_token" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeUnsupportedGrantType,
			wantState: TokenRejectedRequest,
		},
		{
			name:      "client credentials grant",
			modify:    func(r *TokenRequest) { r.GrantType = "client_credentials" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeUnsupportedGrantType,
			wantState: TokenRejectedRequest,
		},
		{
			name:      "missing code",
			modify:    func(r *TokenRequest) { r.Code = "" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeInvalidRequest,
			wantState: TokenRejectedRequest,
		},
		{
			name:      "missing client secret",
			modify:    func(r *TokenRequest) { r.ClientSecret = "" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeInvalidRequest,
			wantState: TokenRejectedRequest,
		},
		{
			name:      "missing redirect url",
			modify:    func(r *TokenRequest) { r.RedirectURL = "" },
			wantKind:  KindInvalidRequest,
			wantCode:  ErrorCodeInvalidRequest,
			wantState: TokenRejectedRequest,
		},
		{
			name:      "wrong client secret",
			modify:    func(r *TokenRequest) { r.ClientSecret = "s2" },
			wantKind:  KindInvalidClient,
			wantCode:  ErrorCodeInvalidClient,
			wantState: TokenRejectedClient,
		},
		{
			name:      "unknown client",
			modify:    func(r *TokenRequest) { r.ClientID = "c9" },
			wantKind:  KindInvalidClient,
			wantCode:  ErrorCodeInvalidClient,
			wantState: TokenRejectedClient,
		},
		{
			name:      "code of another client",
			modify:    func(r *TokenRequest) { r.ClientID, r.ClientSecret, r.RedirectURL = "c2", "s2", "https://other/cb" },
			wantKind:  KindInvalidGrant,
			wantCode:  ErrorCodeInvalidGrant,
			wantState: TokenRejectedGrant,
		},
		{
			name:      "different redirect url",
			modify:    func(r *TokenRequest) { r.RedirectURL = "https://app/cb/" },
			wantKind:  KindInvalidGrant,
			wantCode:  ErrorCodeInvalidGrant,
			wantState: TokenRejectedGrant,
		},
		{
			name:      "garbage code",
			modify:    func(r *TokenRequest) { r.Code = "not-a-code" },
			wantKind:  KindInvalidGrant,
			wantCode:  ErrorCodeInvalidGrant,
			wantState: TokenRejectedGrant,
		},
		{
			name: "tampered code",
			modify: func(r *TokenRequest) {
				b := []byte(r.Code)
				if b[len(b)/2] == 'A' {
					b[len(b)/2] = 'B'
				} else {
					b[len(b)/2] = 'A'
				}
				r.Code = string(b)
			},
			wantKind:  KindInvalidGrant,
			wantCode:  ErrorCodeInvalidGrant,
			wantState: TokenRejectedGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			code := env.issueCode(t)

			req := tokenRequestFor(code)
			tt.modify(&req)
			res, err := env.server.Token(context.Background(), req)
			if res != nil {
				t.Errorf("Token() result = %+v, want nil", res)
			}
			requireError(t, err, tt.wantKind, tt.wantCode, tt.wantState.String())

			// None of these failures burns the code for its rightful owner.
			if _, err := env.server.Token(context.Background(), tokenRequestFor(code)); err != nil {
				t.Errorf("rightful exchange after rejection error = %v", err)
			}
		})
	}
}

func TestToken_CodeFromAnotherServerKey(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t)
	code := other.issueCode(t)

	_, err := env.server.Token(context.Background(), tokenRequestFor(code))
	requireError(t, err, KindInvalidGrant, ErrorCodeInvalidGrant, TokenRejectedGrant.String())
	if !errors.Is(err, security.ErrDecrypt) {
		t.Errorf("cause = %v, want ErrDecrypt", errors.Unwrap(err))
	}
}

func TestToken_ConcurrentExchange(t *testing.T) {
	env := newTestEnv(t)
	code := env.issueCode(t)

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		grants    int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.server.Token(context.Background(), tokenRequestFor(code))
			mu.Lock()
			defer mu.Unlock()
			switch KindOf(err) {
			case 0:
				successes++
			case KindInvalidGrant:
				grants++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if grants != workers-1 {
		t.Errorf("invalid_grant = %d, want %d", grants, workers-1)
	}
}

func TestToken_StoreFailure(t *testing.T) {
	codes := storagemock.NewMockCodeStore()
	env := newTestEnvWithStore(t, codes)
	code := env.issueCode(t)

	codes.ConsumeAuthorizationCodeFunc = func(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error) {
		return nil, errors.New("connection reset")
	}

	_, err := env.server.Token(context.Background(), tokenRequestFor(code))
	requireError(t, err, KindInternal, ErrorCodeServerError, TokenFailed.String())
}

func TestToken_CancelledContextStillIssues(t *testing.T) {
	codes := storagemock.NewMockCodeStore()
	env := newTestEnvWithStore(t, codes)
	code := env.issueCode(t)

	ctx, cancel := context.WithCancel(context.Background())
	consume := codes.ConsumeAuthorizationCodeFunc
	codes.ConsumeAuthorizationCodeFunc = func(c context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error) {
		cancel()
		if c.Err() != nil {
			return nil, c.Err()
		}
		return consume(c, code, clientID, redirectURL, now)
	}

	if _, err := env.server.Token(ctx, tokenRequestFor(code)); err != nil {
		t.Fatalf("Token() error = %v, a redeemed code must still yield a token", err)
	}
}

func TestValidateAccessToken_Expiry(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.server.Token(context.Background(), tokenRequestFor(env.issueCode(t)))
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	env.clock.Advance(time.Hour - time.Second)
	if _, err := env.server.ValidateAccessToken(context.Background(), res.Token.AccessToken); err != nil {
		t.Fatalf("ValidateAccessToken() before expiry error = %v", err)
	}

	env.clock.Advance(time.Second)
	if _, err := env.server.ValidateAccessToken(context.Background(), res.Token.AccessToken); !errors.Is(err, security.ErrTokenExpired) {
		t.Errorf("ValidateAccessToken() at expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestStates_String(t *testing.T) {
	authorize := map[AuthorizeState]string{
		AuthorizeStart:               "START",
		AuthorizeClientValidated:     "CLIENT_VALIDATED",
		AuthorizeUserAuthenticated:   "USER_AUTHENTICATED",
		AuthorizeCodeIssued:          "CODE_ISSUED",
		AuthorizeRejectedRequest:     "REJECTED_REQUEST",
		AuthorizeRejectedClient:      "REJECTED_CLIENT",
		AuthorizeRejectedCredentials: "REJECTED_CREDENTIALS",
		AuthorizeFailed:              "FAILED",
	}
	for state, want := range authorize {
		if got := state.String(); got != want {
			t.Errorf("AuthorizeState(%d).String() = %q, want %q", int(state), got, want)
		}
	}

	token := map[TokenState]string{
		TokenStart:               "START",
		TokenClientAuthenticated: "CLIENT_AUTHENTICATED",
		TokenCodeValidated:       "CODE_VALIDATED",
		TokenIssued:              "TOKEN_ISSUED",
		TokenRejectedRequest:     "REJECTED_REQUEST",
		TokenRejectedClient:      "REJECTED_CLIENT",
		TokenRejectedGrant:       "REJECTED_GRANT",
		TokenFailed:              "FAILED",
	}
	for state, want := range token {
		if got := state.String(); got != want {
			t.Errorf("TokenState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
