// Package storage defines the persistence interfaces of the authorization server.
//
//   - ClientStore: the registry of OAuth clients (id, bcrypt secret hash, redirect URL)
//   - CodeStore: issued authorization codes with single-use, expiry and context binding
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory store for single-instance deployments and tests
//   - storage/valkey: Valkey/Redis-compatible code store for multi-instance deployments
//   - storage/mock: function-field mocks for unit tests
package storage
