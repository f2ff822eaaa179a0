package storage

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummySecretHash is compared against when a client does not exist, so unknown
// and known clients cost the same bcrypt work.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashClientSecret returns the bcrypt hash stored in Client.ClientSecretHash.
// A cost of 0 uses bcrypt.DefaultCost.
func HashClientSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("client secret cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// CompareClientSecret checks secret against client's hash in time independent of how
// many leading bytes match. A nil client (unknown id) is compared against a dummy hash
// and always fails.
func CompareClientSecret(client *Client, secret string) bool {
	hash := dummySecretHash
	if client != nil && client.ClientSecretHash != "" {
		hash = client.ClientSecretHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil && client != nil && client.ClientSecretHash != ""
}
