package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError is a failed call to a hosted LLM API, translated from the
// provider SDK's error type.
type ProviderError struct {
	// Provider names the adapter, e.g. "anthropic".
	Provider string

	// StatusCode is the HTTP status returned by the API, 0 if unknown.
	StatusCode int

	Message string

	// Cause is the SDK error.
	Cause error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return e.Provider + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Transient reports whether retrying the call may succeed: rate limiting,
// request timeouts and server-side failures.
func (e *ProviderError) Transient() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 409, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsTransient is the default retry predicate. Provider errors decide for
// themselves; network errors and messages naming a timeout or an overloaded
// service are retried. Context cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "temporar", "overloaded", "rate limit"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
