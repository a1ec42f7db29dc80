package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind buckets provider failures so callers can branch without matching on
// error strings.
type Kind int

const (
	KindTransport Kind = iota + 1 // dial, TLS, or mid-body read failure
	KindProtocol                  // non-2xx status or an undecodable body
	KindRateLimit                 // HTTP 429
	KindAuth                      // HTTP 401 or 403
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	}
	return "unknown"
}

// HTTPError is a non-2xx response from a provider. Body carries the raw
// error payload for logs; RetryAfter is zero when the header was absent.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Kind classifies the status code.
func (e *HTTPError) Kind() Kind {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusTooManyRequests:
		return KindRateLimit
	}
	return KindProtocol
}

// ClassifyError reports the failure kind for any error returned by a
// Provider. Errors that never reached an HTTP status are transport failures.
func ClassifyError(err error) Kind {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Kind()
	}
	return KindTransport
}

// ParseRetryAfter reads a Retry-After header value, accepting both the
// delta-seconds and HTTP-date forms. Malformed or past values yield zero.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
