package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-codegrant/storage"
)

// SaveClient registers a client. Clients are immutable once registered.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	switch {
	case client == nil:
		err = fmt.Errorf("client cannot be nil")
	case client.ClientID == "":
		err = fmt.Errorf("client ID cannot be empty")
	case client.RedirectURL == "":
		err = fmt.Errorf("client %s: redirect URL cannot be empty", client.ClientID)
	case client.ClientSecretHash == "":
		err = fmt.Errorf("client %s: secret hash cannot be empty", client.ClientID)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		err = fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
		return err
	}

	stored := *client
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.clients[client.ClientID] = &stored
	s.clientsCountAtomic.Store(int64(len(s.clients)))

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a copy of a registered client
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	client := s.lookupClient(clientID)
	if client == nil {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}
	return client, nil
}

// VerifyRedirect reports whether redirectURL is exactly the client's registered redirect URL
func (s *Store) VerifyRedirect(ctx context.Context, clientID, redirectURL string) bool {
	_, span := s.startStorageSpan(ctx, "verify_redirect")
	defer span.End()

	client := s.lookupClient(clientID)
	return client != nil && client.RedirectURL == redirectURL
}

// AuthenticateClient validates a client's secret using bcrypt.
// Unknown clients are compared against a dummy hash so both paths cost the same.
func (s *Store) AuthenticateClient(ctx context.Context, clientID, clientSecret string) bool {
	_, span := s.startStorageSpan(ctx, "authenticate_client")
	defer span.End()

	// bcrypt runs outside the lock
	return storage.CompareClientSecret(s.lookupClient(clientID), clientSecret)
}

// ListClients returns copies of all registered clients
func (s *Store) ListClients(ctx context.Context) []*storage.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		copied := *c
		clients = append(clients, &copied)
	}
	return clients
}

func (s *Store) lookupClient(clientID string) *storage.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil
	}
	copied := *client
	return &copied
}
