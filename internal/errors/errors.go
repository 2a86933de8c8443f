// Package errors provides the error taxonomy shared by the completion client
// and the conversation engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the conversation engine reports it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnreachable covers transport failures and timeouts.
	KindUnreachable
	// KindRemoteRejected covers non-2xx responses from the endpoint.
	KindRemoteRejected
	// KindCredentialMissing is a local precondition, checked before any network call.
	KindCredentialMissing
	// KindInvalidInput is an empty or whitespace-only message.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "Unreachable"
	case KindRemoteRejected:
		return "RemoteRejected"
	case KindCredentialMissing:
		return "CredentialMissing"
	case KindInvalidInput:
		return "InvalidInput"
	default:
		return "Unknown"
	}
}

// Sentinel errors for common cases
var (
	ErrCredentialMissing = errors.New("no API credential configured")
	ErrInvalidInput      = errors.New("message is empty")
	ErrNotFound          = errors.New("not found")
	ErrBusy              = errors.New("a message is already being sent")
)

// NetworkError represents a transport failure: the endpoint could not be reached.
type NetworkError struct {
	Operation string
	Endpoint  string
	Cause     error
}

func (e *NetworkError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s failed: could not connect to %s", e.Operation, e.Endpoint)
	}
	return fmt.Sprintf("%s failed: could not connect to %s: %v", e.Operation, e.Endpoint, e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new NetworkError
func NewNetworkError(operation, endpoint string, cause error) *NetworkError {
	return &NetworkError{Operation: operation, Endpoint: endpoint, Cause: cause}
}

// TimeoutError represents a request that did not complete within the configured bound.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "request timed out"
	}
	return fmt.Sprintf("request timed out: %s", e.Message)
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(message string) *TimeoutError {
	return &TimeoutError{Message: message}
}

// APIError represents a non-success response. Message is the provider's own
// description when the body carried one, so Error() returns it verbatim.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Failed to fetch response (status %d)", e.StatusCode)
}

// NewAPIError creates a new APIError
func NewAPIError(statusCode int, endpoint, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
	}
}

// NewAPIErrorWithBody creates an APIError that keeps the raw response body for diagnostics
func NewAPIErrorWithBody(statusCode int, endpoint, message, body string) *APIError {
	e := NewAPIError(statusCode, endpoint, message)
	e.Body = body
	return e
}

// KindOf classifies any error chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case IsNetworkError(err), IsTimeoutError(err):
		return KindUnreachable
	case IsRemoteRejected(err):
		return KindRemoteRejected
	case errors.Is(err, ErrCredentialMissing):
		return KindCredentialMissing
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

// IsNetworkError reports whether err is a transport failure
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsTimeoutError reports whether err is a timeout
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// IsRemoteRejected reports whether err is a non-success response from the endpoint
func IsRemoteRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsAuthError reports whether the endpoint rejected the credential
func IsAuthError(err error) bool {
	status := GetHTTPStatus(err)
	return status == 401 || status == 403
}

// IsRateLimitError reports whether the endpoint rejected the request for rate or quota reasons
func IsRateLimitError(err error) bool {
	return GetHTTPStatus(err) == 429
}

// GetHTTPStatus returns the HTTP status carried by err, or 0
func GetHTTPStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// GetEndpoint returns the endpoint carried by err, or ""
func GetEndpoint(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Endpoint
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Endpoint
	}
	return ""
}

// GetResponseBody returns the raw response body carried by err, or ""
func GetResponseBody(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return ""
}
