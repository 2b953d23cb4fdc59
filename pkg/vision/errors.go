package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of inference API errors.
type ErrorClass string

const (
	// ErrorClassClient represents non-retriable 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 throttling responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents an inference API error with classification context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusRequestTimeout:
		return ErrorClassNetwork
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// networkError wraps a transport-level failure as an APIError.
func networkError(err error) *APIError {
	return &APIError{
		ErrorClass: ErrorClassNetwork,
		Message:    "transport failure",
		Err:        err,
	}
}

// IsTransient reports whether an error is expected to resolve on retry:
// throttling, server errors, connection failures and timeouts. Client errors
// and context cancellation are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorClass {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
