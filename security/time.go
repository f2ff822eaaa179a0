package security

import "time"

// Clock supplies the current time. Every expiry decision in the server goes
// through a Clock so tests can control it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// IsExpired reports whether a credential with the given expiry is no longer valid at now.
// A credential is valid only while now is strictly before expiresAt; there is no grace period.
// A zero expiresAt never expires.
func IsExpired(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// ExpiresIn returns the remaining lifetime at now, truncated to whole seconds and never negative.
func ExpiresIn(now, expiresAt time.Time) int64 {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Second)
}
