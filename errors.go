package oauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/server"
)

// Error codes used only by the HTTP layer. Protocol codes live in the server package.
const (
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// StatusForKind maps an error kind to its HTTP status. Every caller-side kind is
// 400 so that the status never tells which check failed.
func StatusForKind(kind server.Kind) int {
	switch kind {
	case server.KindInvalidRequest, server.KindInvalidClient, server.KindInvalidCredentials, server.KindInvalidGrant:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServerError writes err as an OAuth error response. Causes are never sent.
func (h *Handler) writeServerError(w http.ResponseWriter, err error) int {
	kind := server.KindOf(err)
	status := StatusForKind(kind)

	code := server.ErrorCodeServerError
	var e *server.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	h.writeError(w, code, kind.Description(), status)
	return status
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStore(w)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
