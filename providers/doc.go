// Package providers defines how the authorization server authenticates users.
//
// The CredentialVerifier interface is called once per authorization request with the
// user name and password from the request body. Implementations are provided in
// subpackages:
//   - providers/static: an in-memory table of bcrypt password hashes, loaded from config
//   - providers/mysql: a users table in MySQL
//   - providers/mock: function-field mock for tests
//
// Implementations must take the same time for an unknown user as for a wrong
// password, and must report both as ErrInvalidCredentials.
package providers
