package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

var (
	// ErrCircuitOpen matches every *CircuitOpenError via errors.Is.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidRequest is returned when a request cannot be turned into an
	// outbound HTTP request. It is never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownDependency is returned by Gateway.Invoke for a name that has
	// no registered client.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// ErrorClassifier determines whether an error should trigger a retry.
// Implement this interface to customize retry behavior for your specific error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// CircuitBreakerErrorClassifier determines whether an error counts toward
// the circuit breaker's consecutive failure tally.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error is a breaker-counted failure.
	ShouldTripCircuit(err error) bool
}

// HTTPError represents an error with an associated HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// TransientNetworkError is a transport level failure (connection reset,
// refused, timeout) that never produced a response. Retryable and
// breaker-counted.
type TransientNetworkError struct {
	Err    error
	Method string
	URL    string
}

// Error implements the error interface.
func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// RetryableStatusError is returned for 408, 429 and 5xx responses.
// Retryable and breaker-counted.
type RetryableStatusError struct {
	Response *Response
	Code     int
}

// Error implements the error interface.
func (e *RetryableStatusError) Error() string {
	return "retryable status " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

// StatusCode returns the HTTP status code.
func (e *RetryableStatusError) StatusCode() int {
	return e.Code
}

// ClientError is returned for 4xx responses other than 408 and 429.
// It is neither retried nor counted by the breaker: the dependency answered.
type ClientError struct {
	Response *Response
	Code     int
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	return "client error " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

// StatusCode returns the HTTP status code.
func (e *ClientError) StatusCode() int {
	return e.Code
}

// CircuitOpenError is returned when a breaker rejects a call locally. No
// network attempt was made.
type CircuitOpenError struct {
	OpenedAt   time.Time
	Dependency string
	// RetryAfter is the remaining open duration at rejection time. Zero while
	// a half-open probe is in flight.
	RetryAfter time.Duration
	State      CircuitBreakerState
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker for %q is half-open: probe in flight", e.Dependency)
	}
	return fmt.Sprintf("circuit breaker for %q is open", e.Dependency)
}

// Is reports whether target is ErrCircuitOpen or the equivalent jp-go-errors
// sentinel, so callers using either package can detect the rejection.
func (e *CircuitOpenError) Is(target error) bool {
	switch target {
	case ErrCircuitOpen, jperrors.ErrCircuitOpen:
		return true
	default:
		return false
	}
}

// ExhaustedRetriesError is returned when every allowed attempt failed with a
// retryable error. It unwraps to the last failure.
type ExhaustedRetriesError struct {
	Last     error
	Attempts int
}

// Error implements the error interface.
func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying failure.
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Last
}

// IsUnavailable reports whether err means the dependency should be treated as
// unavailable: the breaker rejected the call or every attempt failed.
func IsUnavailable(err error) bool {
	var exhausted *ExhaustedRetriesError
	return errors.Is(err, ErrCircuitOpen) || errors.As(err, &exhausted)
}

// HTTPStatusClassifier classifies outcomes by transport error type and HTTP
// status code. The same transient set drives both retries and the breaker.
type HTTPStatusClassifier struct {
	// RetryableStatuses lists the status codes treated as transient.
	// Defaults to 408, 429 and every 5xx code if nil.
	RetryableStatuses []int
}

// NewHTTPStatusClassifier creates a classifier with the default transient set.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{}
}

// IsRetryable implements ErrorClassifier.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	return c.isTransient(err)
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier. It mirrors
// IsRetryable.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	return c.isTransient(err)
}

// IsRetryableStatus reports whether code is in the transient status set.
func (c *HTTPStatusClassifier) IsRetryableStatus(code int) bool {
	if c.RetryableStatuses != nil {
		return containsStatus(c.RetryableStatuses, code)
	}
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		(code >= 500 && code <= 599)
}

// ResponseError maps a response to the error taxonomy. It returns nil for
// responses that are successes for every layer of the chain.
func (c *HTTPStatusClassifier) ResponseError(resp *Response) error {
	switch {
	case c.IsRetryableStatus(resp.StatusCode):
		return &RetryableStatusError{Code: resp.StatusCode, Response: resp}
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return &ClientError{Code: resp.StatusCode, Response: resp}
	default:
		return nil
	}
}

func (c *HTTPStatusClassifier) isTransient(err error) bool {
	if err == nil {
		return false
	}

	// Checked before context errors: an http.Client timeout may wrap
	// context.DeadlineExceeded but is still a network failure.
	var netErr *TransientNetworkError
	if errors.As(err, &netErr) {
		return true
	}

	// The caller's own context ending is not a dependency failure.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrInvalidRequest) {
		return false
	}

	if errors.Is(err, jperrors.ErrRateLimited) || jperrors.IsTimeout(err) {
		return true
	}

	if code := extractStatusCode(err); code != 0 {
		return c.IsRetryableStatus(code)
	}

	// Raw errors from a custom Transport that did not wrap them.
	var rawNetErr net.Error
	if errors.As(err, &rawNetErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// isNeutral reports outcomes that say nothing about dependency health: the
// caller gave up before an answer arrived.
func isNeutral(err error) bool {
	var netErr *TransientNetworkError
	if errors.As(err, &netErr) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// extractStatusCode attempts to extract an HTTP status code from err.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// containsStatus checks if a status code is in the list.
func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultErrorClassifier returns the classifier used when none is configured.
func DefaultErrorClassifier() ErrorClassifier {
	return NewHTTPStatusClassifier()
}

// DefaultCircuitBreakerErrorClassifier returns the breaker classifier used
// when none is configured.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewHTTPStatusClassifier()
}
