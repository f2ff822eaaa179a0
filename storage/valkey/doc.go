// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is wire-compatible with Redis. Store implements [storage.ClientStore] and
// [storage.CodeStore], so several server replicas can share one registry and,
// more importantly, one view of which authorization codes have been redeemed.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}  -> JSON(Client)
//	{prefix}code:{code}        -> JSON(code record), PX set to the code lifetime
//
// # Atomic Redemption
//
// ConsumeAuthorizationCode runs a Lua script that checks existence, expiry,
// prior use and the client/redirect binding, and marks the code consumed, all in
// one server-side step. Among concurrent redemptions of one code exactly one sees
// success. Consumed codes keep their TTL so a replay before expiry is reported as
// reuse instead of an unknown code.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
