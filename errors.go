package tahan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Error type tags. Every failure surfaced by the client carries exactly one.
const (
	ErrorTypeNetwork        = "NetworkError"
	ErrorTypeTimeout        = "TimeoutError"
	ErrorTypeClient         = "HttpClientError"
	ErrorTypeServer         = "HttpServerError"
	ErrorTypeAuthentication = "AuthenticationError"
	ErrorTypeValidation     = "ValidationError"
	ErrorTypeCanceled       = "CanceledError"
)

// Sentinel errors for errors.Is checks against a classification.
var (
	// ErrNetwork matches any transport failure.
	ErrNetwork = &ClientError{Type: ErrorTypeNetwork}

	// ErrTimeout matches attempts that exceeded their deadline.
	ErrTimeout = &ClientError{Type: ErrorTypeTimeout}

	// ErrHTTPClient matches 4xx (and other non-2xx, non-5xx) responses.
	ErrHTTPClient = &ClientError{Type: ErrorTypeClient}

	// ErrHTTPServer matches 5xx responses.
	ErrHTTPServer = &ClientError{Type: ErrorTypeServer}

	// ErrAuthentication matches absent, invalid or unrefreshable credentials.
	ErrAuthentication = &ClientError{Type: ErrorTypeAuthentication}

	// ErrValidation matches malformed requests and invalid configuration.
	ErrValidation = &ClientError{Type: ErrorTypeValidation}

	// ErrCanceled matches calls abandoned by the caller's context.
	ErrCanceled = &ClientError{Type: ErrorTypeCanceled}
)

// ClientError is the single error type returned by Execute and the token
// manager.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	StatusCode  int
	Method      string
	URL         string
	Attempt     int
	MaxAttempts int
	RequestID   string
	Timestamp   time.Time
	Duration    time.Duration
}

// NewClientError builds a ClientError with only the classification fields set.
func NewClientError(errorType, message string, cause error) *ClientError {
	return &ClientError{Type: errorType, Message: message, Cause: cause}
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// ErrorType returns the classification of err, or "" when err is not a
// *ClientError.
func ErrorType(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	return ""
}

// ClassifyStatus maps a non-2xx HTTP status to its error type. It returns ""
// for 2xx.
func ClassifyStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeClient
	}
}

// Classify maps a raw failure to exactly one error type. A *ClientError keeps
// its own type; context cancellation is ErrorTypeCanceled; deadlines and
// net.Error timeouts are ErrorTypeTimeout; anything else is a network failure.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if t := ErrorType(err); t != "" {
		return t
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	return ErrorTypeNetwork
}

// IsRetryable reports whether the classification of err is ever eligible for
// retry: network failures, timeouts, 5xx and 429. Attempt budgets and the
// idempotency rule are applied by RetryController on top of this.
func IsRetryable(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer:
		return true
	case ErrorTypeClient:
		return clientErr.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsAuthenticationError reports whether err carries ErrorTypeAuthentication.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
