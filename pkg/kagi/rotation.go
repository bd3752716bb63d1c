package kagi

import (
	"net/http"
	"strings"
)

const sessionCookieName = "kagi_session"

// RotatedSession extracts a new session token from the Set-Cookie headers of
// an upstream response. Truncated assignments (no attribute delimiter after
// the value) are ignored.
func RotatedSession(h http.Header) (string, bool) {
	for _, v := range h.Values("Set-Cookie") {
		if tok, ok := parseSessionAssignment(v); ok {
			return tok, true
		}
	}
	return "", false
}

func parseSessionAssignment(raw string) (string, bool) {
	name, rest, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok || strings.TrimSpace(name) != sessionCookieName {
		return "", false
	}
	value, attrs, ok := strings.Cut(rest, ";")
	if !ok || strings.TrimSpace(attrs) == "" {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
