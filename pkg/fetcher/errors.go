package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned alongside the sentinel page when
	// all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrMalformedPage is returned by transports when a response body
	// cannot be decoded into a page.
	ErrMalformedPage = errors.New("malformed page payload")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents permanent client errors (4xx other
	// than rate limiting) and malformed payloads. Not retried.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents explicit rate-limit responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// StatusError is a non-2xx upstream response surfaced by a transport.
type StatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// retryableStatuses is the status forcelist of retryable outcomes.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// classify categorizes a fetch error for retry decisions and observability.
func classify(err error) ErrorClass {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return ErrorClassRateLimit
		case statusErr.StatusCode >= 500:
			return ErrorClassServer
		case retryableStatuses[statusErr.StatusCode]:
			// Retryable 4xx (request timeout) behaves like a server blip.
			return ErrorClassServer
		default:
			return ErrorClassClient
		}
	}

	if errors.Is(err, ErrMalformedPage) {
		return ErrorClassClient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}

	// Anything else from a transport is treated as a network failure.
	return ErrorClassNetwork
}

// shouldRetry determines if an error class is transient.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// Permanent client errors waste the quota budget when retried.
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
