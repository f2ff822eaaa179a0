package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/providers"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Server implements the authorization-code grant.
// It coordinates the client registry, the user verifier and the two issuers.
type Server struct {
	clients  storage.ClientStore
	verifier providers.CredentialVerifier
	signer   *security.TokenSigner

	CodeIssuer  *CodeIssuer
	TokenIssuer *TokenIssuer

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics

	Logger *slog.Logger
	Config *Config
}

// New creates a new OAuth server. Every dependency is required; config may be nil
// only if the signer's issuer should be used as is.
func New(
	clients storage.ClientStore,
	codes storage.CodeStore,
	verifier providers.CredentialVerifier,
	cipher *security.SecretCipher,
	signer *security.TokenSigner,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("credential verifier is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("secret cipher is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	if config == nil {
		config = &Config{Issuer: signer.Issuer()}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if signer.Issuer() != config.Issuer {
		return nil, fmt.Errorf("token signer issuer %q does not match config issuer %q", signer.Issuer(), config.Issuer)
	}

	codeIssuer, err := NewCodeIssuer(cipher, codes, config.CodeLifeSpan(), logger)
	if err != nil {
		return nil, err
	}
	tokenIssuer, err := NewTokenIssuer(clients, codes, codeIssuer, signer, config.TokenLifeSpan(), logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		clients:     clients,
		verifier:    verifier,
		signer:      signer,
		CodeIssuer:  codeIssuer,
		TokenIssuer: tokenIssuer,
		tracer:      noop.NewTracerProvider().Tracer(""),
		Logger:      logger,
		Config:      config,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	s.TokenIssuer.auditor = aud
}

// SetInstrumentation enables tracing and metrics for the endpoint machines and issuers
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
		s.metrics = nil
	} else {
		s.tracer = inst.Tracer("server")
		s.metrics = inst.Metrics()
	}
	s.CodeIssuer.metrics = s.metrics
	s.TokenIssuer.metrics = s.metrics
}

// Now returns the current time of the configured clock
func (s *Server) Now() time.Time {
	return s.Config.Clock.Now()
}

// Signer returns the access token signer, for publishing the JWKS
func (s *Server) Signer() *security.TokenSigner {
	return s.signer
}

// ValidateAccessToken verifies a bearer token at the current clock time.
// It returns security.ErrTokenExpired or an error wrapping security.ErrInvalidToken.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*security.AccessTokenClaims, error) {
	_, span := s.tracer.Start(ctx, "oauth.validate_token")
	defer span.End()

	claims, err := s.signer.Verify(accessToken, s.Now())
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.AddFlowAttributes(span, claims.ClientID, claims.Subject, "")
	instrumentation.SetSpanSuccess(span)
	return claims, nil
}
