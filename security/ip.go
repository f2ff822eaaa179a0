package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address used for rate limiting and audit records.
//
// Forwarding headers are honoured only when trustProxy is set. With
// X-Forwarded-For the rightmost trustedProxyCount entries are our own proxies
// (at least one is assumed) and the entry just before them is the client.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")
	proxies := max(trustedProxyCount, 1)
	idx := max(len(hops)-proxies-1, 0)

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
