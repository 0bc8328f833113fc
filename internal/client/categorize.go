package client

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/zappai-client/internal/circuitbreaker"
	"github.com/kjstillabower/zappai-client/internal/validation"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the apiErrorsTotal label.
const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryAuthInvalid ErrorCategory = "auth_invalid"
	ErrorCategoryNoToken     ErrorCategory = "no_token"
	ErrorCategoryNotFound    ErrorCategory = "not_found"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryTokenStore  ErrorCategory = "token_store"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// errTokenStore is wrapped when the TokenStore itself fails.
var errTokenStore = errors.New("token store")

// errParse is wrapped when a response body cannot be decoded.
var errParse = errors.New("parse response")

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrAuthInvalid):
		return ErrorCategoryAuthInvalid
	case errors.Is(err, ErrNoToken):
		return ErrorCategoryNoToken
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, errParse), errors.Is(err, validation.ErrMalformed):
		return ErrorCategoryParsing
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, errTokenStore):
		return ErrorCategoryTokenStore
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
