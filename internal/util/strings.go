package util

import (
	"fmt"
	"net/url"
)

// SafeTruncate returns at most maxLen leading bytes of s. It is used to log
// a recognisable prefix of codes and tokens without logging the value itself.
// A negative maxLen returns "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// AddQueryParam sets key=value in the query of rawURL, keeping any query
// parameters and fragment that are already present.
func AddQueryParam(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
