package client

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthInvalid means the backend rejected the credential (HTTP 401).
	ErrAuthInvalid = errors.New("authentication invalid")
	// ErrNoToken means an authenticated call was attempted with no stored token.
	ErrNoToken = errors.New("no access token")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrNotFound is wrapped in a *TransportError for HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is wrapped in a *TransportError for HTTP 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstreamFailure is wrapped in a *TransportError for HTTP 5xx and other non-2xx codes.
	ErrUpstreamFailure = errors.New("upstream failure")
)

// TransportError is any failure that is not a confirmed credential rejection:
// network errors, timeouts, non-2xx statuses other than 401, and malformed payloads.
// StatusCode is 0 when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true for every TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func transportErr(op string, status int, err error) *TransportError {
	return &TransportError{Op: op, StatusCode: status, Err: err}
}
