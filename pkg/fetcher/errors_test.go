package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "server error",
			err:      &StatusError{StatusCode: 500},
			expected: ErrorClassServer,
		},
		{
			name:     "bad gateway",
			err:      &StatusError{StatusCode: 502},
			expected: ErrorClassServer,
		},
		{
			name:     "rate limit response",
			err:      &StatusError{StatusCode: 429},
			expected: ErrorClassRateLimit,
		},
		{
			name:     "request timeout",
			err:      &StatusError{StatusCode: 408},
			expected: ErrorClassServer,
		},
		{
			name:     "not found",
			err:      &StatusError{StatusCode: 404},
			expected: ErrorClassClient,
		},
		{
			name:     "forbidden",
			err:      &StatusError{StatusCode: 403},
			expected: ErrorClassClient,
		},
		{
			name:     "wrapped status error",
			err:      fmt.Errorf("fetch page: %w", &StatusError{StatusCode: 503}),
			expected: ErrorClassServer,
		},
		{
			name:     "malformed payload",
			err:      fmt.Errorf("%w: unexpected token", ErrMalformedPage),
			expected: ErrorClassClient,
		},
		{
			name:     "context deadline",
			err:      context.DeadlineExceeded,
			expected: ErrorClassNetwork,
		},
		{
			name:     "plain network error",
			err:      errors.New("connection refused"),
			expected: ErrorClassNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.expected {
				t.Errorf("classify() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

func TestStatusError_Error(t *testing.T) {
	err := &StatusError{StatusCode: 503, Status: "503 Service Unavailable"}
	want := "upstream status 503: 503 Service Unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &StatusError{StatusCode: 404}
	if bare.Error() != "upstream status 404" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "upstream status 404")
	}
}
