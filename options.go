package aggregator

import (
	"log/slog"
	"time"
)

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// ErrorClassifier determines which errors should trigger retries.
	// Default: HTTPStatusClassifier (transport errors, 408, 429, 5xx)
	ErrorClassifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// OnRetry is called synchronously before each backoff wait with the
	// 1-indexed retry number, the wait and the failure that caused it.
	// It must not block.
	OnRetry func(info RetryInfo)

	// BackoffBase is the base of the exponential schedule:
	// delay(attempt) = BackoffBase * 2^attempt.
	// Default: 1 second (waits of 2s, 4s, 8s, ...)
	BackoffBase time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	// Default: 0
	MaxDelay time.Duration

	// Jitter adds up to +/- Jitter to each wait. Zero keeps the schedule
	// deterministic.
	// Default: 0
	Jitter time.Duration

	// MaxAttempts is the maximum number of attempts including the initial
	// request.
	// Default: 6 (one attempt plus five retries)
	MaxAttempts int
}

// RetryInfo describes one retry decision.
type RetryInfo struct {
	Err     error
	Request *Request
	Attempt int
	Delay   time.Duration
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the total number of attempts, including the first.
//
// Example:
//
//	aggregator.WithMaxAttempts(3) // Try up to 3 times total
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithRetryCount sets the number of retries after the first attempt, so
// WithRetryCount(5) allows six attempts in total.
func WithRetryCount(retries int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = retries + 1
	}
}

// WithExponentialBackoff sets the backoff base and an optional cap.
//
// Example:
//
//	aggregator.WithExponentialBackoff(time.Second, 0)
//	// Waits: 2s, 4s, 8s, 16s, 32s
func WithExponentialBackoff(base, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.BackoffBase = base
		c.MaxDelay = maxDelay
	}
}

// WithJitter enables randomized waits of +/- jitter around the exponential
// schedule.
func WithJitter(jitter time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Jitter = jitter
	}
}

// WithErrorClassifier sets a custom error classifier for retry decisions.
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithRetryObserver sets the callback invoked for every retry decision.
func WithRetryObserver(fn func(info RetryInfo)) RetryOption {
	return func(c *RetryConfig) {
		c.OnRetry = fn
	}
}

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns the gateway's retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     6,
		BackoffBase:     time.Second,
		ErrorClassifier: DefaultErrorClassifier(),
		Logger:          slog.Default(),
	}
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// ErrorClassifier determines which errors count as breaker failures.
	// Default: HTTPStatusClassifier
	ErrorClassifier CircuitBreakerErrorClassifier

	// Clock drives the open duration.
	// Default: RealClock
	Clock Clock

	// OnStateChange is called, with the breaker's lock held, whenever the
	// breaker changes state. It must not call back into the breaker.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// OpenDuration is how long the breaker stays open before the next call
	// is let through as a half-open probe.
	// Default: 30 seconds
	OpenDuration time.Duration

	// FailureThreshold is the number of consecutive breaker-counted failures
	// that opens a closed breaker.
	// Default: 5
	FailureThreshold int
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means a single probe is testing whether the dependency recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithFailureThreshold sets the consecutive failure count that opens the breaker.
func WithFailureThreshold(n int) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.FailureThreshold = n
	}
}

// WithOpenDuration sets how long the breaker stays open.
//
// Example:
//
//	aggregator.WithOpenDuration(60 * time.Second)
func WithOpenDuration(d time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OpenDuration = d
	}
}

// WithClock sets the breaker's time source.
func WithClock(clock Clock) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Clock = clock
	}
}

// WithCircuitBreakerErrorClassifier sets a custom error classifier for circuit breaker decisions.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
//
// Example:
//
//	aggregator.WithStateChangeHandler(func(name string, from, to aggregator.CircuitBreakerState) {
//	    log.Printf("Circuit %s changed from %s to %s", name, from, to)
//	})
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets a custom logger for circuit breaker operations.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns the gateway's breaker defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		ErrorClassifier:  DefaultCircuitBreakerErrorClassifier(),
		Clock:            RealClock{},
		Logger:           slog.Default(),
	}
}

// LoggingConfig holds logging interceptor options.
type LoggingConfig struct {
	Logger *slog.Logger
	Clock  Clock

	// LogBodies includes request and response bodies in debug records.
	// Default: false
	LogBodies bool

	// MaxBodyLogBytes truncates logged bodies.
	// Default: 1024
	MaxBodyLogBytes int
}

// LoggingOption is a functional option for the logging interceptor.
type LoggingOption func(*LoggingConfig)

// WithLogger sets the logging interceptor's sink.
func WithLogger(logger *slog.Logger) LoggingOption {
	return func(c *LoggingConfig) {
		c.Logger = logger
	}
}

// WithLoggingClock sets the clock used to measure call duration.
func WithLoggingClock(clock Clock) LoggingOption {
	return func(c *LoggingConfig) {
		c.Clock = clock
	}
}

// WithBodyLogging enables body logging, truncated to maxBytes.
func WithBodyLogging(maxBytes int) LoggingOption {
	return func(c *LoggingConfig) {
		c.LogBodies = true
		c.MaxBodyLogBytes = maxBytes
	}
}

// DefaultLoggingConfig returns the logging interceptor defaults.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Logger:          slog.Default(),
		Clock:           RealClock{},
		MaxBodyLogBytes: 1024,
	}
}
