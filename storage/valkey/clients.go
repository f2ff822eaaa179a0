package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-codegrant/storage"
)

// SaveClient registers a client. The write uses SET NX so that two replicas
// loading the same registry cannot overwrite each other.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client: client id is required")
	}
	if client.RedirectURL == "" {
		return fmt.Errorf("invalid client: redirect URL is required")
	}
	if client.ClientSecretHash == "" {
		return fmt.Errorf("invalid client: secret hash is required")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client id"); err != nil {
		return err
	}

	stored := *client
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Nx().Build(),
	).Error()
	if isNilError(err) {
		return fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
	}
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := validateStringLength(clientID, MaxIDLength, "client id"); err != nil {
		return nil, storage.ErrClientNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client storage.Client
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// VerifyRedirect reports whether redirectURL is exactly the client's registered redirect URL.
// Lookup failures are logged and treated as a mismatch.
func (s *Store) VerifyRedirect(ctx context.Context, clientID, redirectURL string) bool {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrClientNotFound) {
			s.logger.Warn("Client lookup failed during redirect verification",
				"client_id", clientID,
				"error", err)
		}
		return false
	}
	return redirectURL != "" && client.RedirectURL == redirectURL
}

// AuthenticateClient verifies the client secret with bcrypt. Unknown clients and
// lookup failures are compared against a dummy hash.
func (s *Store) AuthenticateClient(ctx context.Context, clientID, clientSecret string) bool {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		client = nil
	}
	return storage.CompareClientSecret(client, clientSecret)
}
