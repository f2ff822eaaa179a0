package security

import (
	"net/http"
	"net/url"
)

// hstsValue enforces HTTPS for one year, including subdomains.
const hstsValue = "max-age=31536000; includeSubDomains"

// SetSecurityHeaders sets the response headers shared by every endpoint of the
// authorization server. HSTS is only sent when the issuer is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", hstsValue)
	}
}

// SetNoStore marks a response as carrying credentials (codes or tokens) that must not be cached.
func SetNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SecurityHeadersMiddleware applies SetSecurityHeaders before calling next.
func SecurityHeadersMiddleware(issuer string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w, issuer)
		next.ServeHTTP(w, r)
	})
}
