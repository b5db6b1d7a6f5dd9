package upstream

import (
	"errors"
	"fmt"
)

var (
	ErrMissingBaseURL    = errors.New("provider base url is not configured")
	ErrMissingCredential = errors.New("provider credential is not configured")
)

const snippetLen = 500

// StatusError represents a non-2xx response from an upstream provider.
type StatusError struct {
	StatusCode int
	Body       []byte
	URL        string
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}

// Snippet returns the start of the response body for error reporting.
func (e *StatusError) Snippet() string {
	if len(e.Body) > snippetLen {
		return string(e.Body[:snippetLen])
	}
	return string(e.Body)
}

// Retryable reports whether the status is in the fixed fallback set.
func (e *StatusError) Retryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

// NetworkError is a transport failure: connect refused, reset, timeout.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError is a 2xx response whose body is not the expected JSON.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryableStatus holds the statuses that trigger fallback to the next
// candidate: 408, 409, 425, 429, 500, 502, 503, 504.
func IsRetryableStatus(code int) bool {
	switch code {
	case 408, 409, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}
