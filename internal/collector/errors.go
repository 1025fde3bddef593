// Package collector holds the error classification shared by every
// connector, the retry policy, and the orchestrator, grounded on
// orchestrator.py's ErrorClassifier.classify_error call immediately
// after a failed fetch.
package collector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrKind classifies a fetch failure so the retry policy and the
// orchestrator's metrics can agree on what happened without either
// re-deriving it from the raw error.
type ErrKind string

const (
	ErrNetwork    ErrKind = "network"
	ErrTimeout    ErrKind = "timeout"
	ErrRateLimit  ErrKind = "rate_limit"
	ErrServer     ErrKind = "server_5xx"
	ErrBadRequest ErrKind = "bad_request"
	ErrAuth       ErrKind = "auth"
	ErrParse      ErrKind = "parse"
	ErrUnknown    ErrKind = "unknown"
)

// Retryable reports whether the retry policy should attempt this kind
// of failure again. NETWORK/TIMEOUT/RATE_LIMIT/SERVER_5XX are transient;
// BAD_REQUEST/AUTH/PARSE indicate the request itself is wrong and
// retrying it would just reproduce the same failure.
func (k ErrKind) Retryable() bool {
	switch k {
	case ErrNetwork, ErrTimeout, ErrRateLimit, ErrServer:
		return true
	default:
		return false
	}
}

// FetchError wraps a connector failure with its classification and,
// where available, the upstream HTTP status and a Retry-After hint.
type FetchError struct {
	Kind       ErrKind
	Source     string // provider/venue name
	StatusCode int    // 0 if not an HTTP error
	RetryAfter int    // seconds, 0 if not provided
	Err        error
}

func (e *FetchError) Error() string {
	return e.Kind.String() + " from " + e.Source + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

func (k ErrKind) String() string { return string(k) }

// ClassifyError inspects err (and, when present, an HTTP status code)
// and returns the ErrKind the retry policy should key off of.
func ClassifyError(err error, statusCode int) ErrKind {
	if err == nil {
		return ErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if statusCode != 0 {
		return classifyStatusCode(statusCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return ErrNetwork
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return ErrAuth
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "json") || strings.Contains(msg, "parse"):
		return ErrParse
	default:
		return ErrUnknown
	}
}

func classifyStatusCode(code int) ErrKind {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code >= 500:
		return ErrServer
	case code >= 400:
		return ErrBadRequest
	default:
		return ErrUnknown
	}
}
