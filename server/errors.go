package server

import (
	"errors"
	"fmt"
)

// Kind classifies a failed request. Every kind except KindInternal is the
// caller's fault.
type Kind int

// Error kinds.
const (
	KindInvalidRequest Kind = iota + 1
	KindInvalidClient
	KindInvalidCredentials
	KindInvalidGrant
	KindInternal
)

// OAuth error codes
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeServerError             = "server_error"
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindInvalidClient:
		return "invalid_client"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidGrant:
		return "invalid_grant"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Description is the public message for the kind. It never depends on which
// check inside the kind failed.
func (k Kind) Description() string {
	switch k {
	case KindInvalidRequest:
		return "Invalid request"
	case KindInvalidClient:
		return "Invalid client"
	case KindInvalidCredentials:
		return "Invalid user credentials"
	case KindInvalidGrant:
		return "Invalid grant"
	default:
		return "Internal server error"
	}
}

// Error is returned by Authorize, Token and the issuers.
type Error struct {
	Kind        Kind
	Code        string // OAuth error code
	Description string // safe to show to the caller
	State       string // state the endpoint machine stopped in, set by the machine

	// cause is kept for logs only
	cause error
}

func newError(kind Kind, code string, cause error) *Error {
	return &Error{
		Kind:        kind,
		Code:        code,
		Description: kind.Description(),
		cause:       cause,
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of err. Errors that are not *Error are internal.
// KindOf(nil) is 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// asError converts any error into an *Error, treating unknown errors as internal.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindInternal, ErrorCodeServerError, err)
}
