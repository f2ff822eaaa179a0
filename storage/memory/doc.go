// Package memory provides an in-memory implementation of storage.ClientStore and
// storage.CodeStore.
//
// Codes are kept in a map guarded by a single mutex, which makes the
// check-and-consume step of ConsumeAuthorizationCode atomic. A min-heap ordered by
// expiry lets the background sweep drop expired codes without scanning the map.
// Consumed codes stay in the store until they expire so that reuse can be detected.
//
// It is suitable for development, testing, and single-instance deployments.
// Multi-instance deployments should use storage/valkey for codes.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	_ = store.SaveClient(ctx, client)
//	srv, err := server.New(store, store, verifier, cipher, signer, config, logger)
package memory
