package kagi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidSession is reported when the upstream answers 404, which it does
// for expired or revoked session keys.
var ErrInvalidSession = errors.New("invalid kagi session key")

// ProtocolError reports a whitelisted frame whose JSON payload could not be
// decoded. It usually means the upstream wire format changed.
type ProtocolError struct {
	Tag     string
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("failed to parse JSON for tag %q: %v (raw payload: %s)", e.Tag, e.Err, e.Payload)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError covers non-2xx upstream responses and connection faults.
// StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "upstream"
	}
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s status %d: %s", op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s status %d", op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsBlocked(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	if te.StatusCode != http.StatusForbidden && te.StatusCode != http.StatusTooManyRequests {
		return false
	}
	msg := strings.ToLower(te.Body)
	return strings.Contains(msg, "just a moment") ||
		strings.Contains(msg, "__cf_chl") ||
		strings.Contains(msg, "challenge-platform") ||
		strings.Contains(msg, "cloudflare")
}

func IsRateLimited(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests
}
