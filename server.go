package oauth

import (
	"log/slog"

	"github.com/giantswarm/oauth-codegrant/providers"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/server"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Server is the authorization-code grant server served by Handler.
type Server = server.Server

// ServerConfig configures the protocol side of a Server.
type ServerConfig = server.Config

// NewServer creates a Server. It is shorthand for server.New.
func NewServer(
	clients storage.ClientStore,
	codes storage.CodeStore,
	verifier providers.CredentialVerifier,
	cipher *security.SecretCipher,
	signer *security.TokenSigner,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	return server.New(clients, codes, verifier, cipher, signer, config, logger)
}
