package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy is the interceptor that re-issues a call on transient failure
// with exponential backoff. It holds configuration and observational
// counters only, so one policy can serve any number of concurrent calls.
type RetryPolicy struct {
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
	dependency string
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	totalExhausted  int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryPolicy creates a retry interceptor for the named dependency.
//
// Example:
//
//	policy := aggregator.NewRetryPolicy(
//	    "catalog",
//	    aggregator.WithRetryCount(5),
//	    aggregator.WithExponentialBackoff(time.Second, 0),
//	)
func NewRetryPolicy(dependency string, opts ...RetryOption) *RetryPolicy {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}

	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	return &RetryPolicy{
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		stats:      &retryStats{},
		dependency: dependency,
	}
}

// Name implements Interceptor.
func (p *RetryPolicy) Name() string { return "retry" }

// Wrap implements Interceptor.
func (p *RetryPolicy) Wrap(next Call) Call {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return p.execute(ctx, req, next)
	}
}

// Delay returns the wait before the given 1-indexed retry, without jitter:
// BackoffBase * 2^attempt, capped by MaxDelay when set.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := p.config.BackoffBase << attempt
	if delay <= 0 || delay>>attempt != p.config.BackoffBase {
		delay = math.MaxInt64
	}
	if p.config.MaxDelay > 0 && delay > p.config.MaxDelay {
		return p.config.MaxDelay
	}
	return delay
}

func (p *RetryPolicy) execute(ctx context.Context, req *Request, next Call) (*Response, error) {
	if p.config.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}

	// Check if parent context is already done before attempting any requests
	select {
	case <-ctx.Done():
		p.logger.Warn("context already done before request (expected condition)",
			"dependency", p.dependency,
			"error", ctx.Err())
		return nil, ctx.Err()
	default:
	}

	var (
		response  *Response
		lastErr   error
		attempts  int
		exhausted bool
	)

	schedule := p.newBackoff()
	observed := retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := schedule.Next()
		if stop {
			exhausted = true
			return 0, true
		}
		p.reportRetry(RetryInfo{Request: req, Attempt: attempts, Delay: delay, Err: lastErr})
		return delay, false
	})

	err := retry.Do(ctx, observed, func(ctx context.Context) error {
		attempts++
		countAttempt(ctx)

		p.stats.mu.Lock()
		p.stats.totalAttempts++
		if attempts > 1 {
			p.stats.totalRetries++
		}
		p.stats.lastAttemptTime = time.Now()
		p.stats.mu.Unlock()

		resp, err := next(ctx, req)
		if err == nil {
			if attempts > 1 {
				p.logger.Info("request succeeded after retry",
					"dependency", p.dependency,
					"attempts", attempts)
			}
			response = resp
			return nil
		}
		lastErr = err

		if !p.classifier.IsRetryable(err) {
			p.logger.Debug("non-retryable error, giving up",
				"dependency", p.dependency,
				"error", err,
				"attempts", attempts)
			return err
		}

		return retry.RetryableError(err)
	})
	if err != nil {
		if exhausted {
			err = &ExhaustedRetriesError{Attempts: attempts, Last: err}
		}
		p.logger.Debug("request failed",
			"dependency", p.dependency,
			"attempts", attempts,
			"exhausted", exhausted,
			"error", err)

		p.stats.mu.Lock()
		p.stats.totalFailures++
		if exhausted {
			p.stats.totalExhausted++
		}
		p.stats.lastError = err
		p.stats.mu.Unlock()
		return nil, err
	}

	p.stats.mu.Lock()
	p.stats.totalSuccesses++
	p.stats.mu.Unlock()

	return response, nil
}

// newBackoff builds a fresh schedule for one logical call. go-retry's
// exponential backoff yields base, 2*base, 4*base...; seeding it with twice
// the configured base produces BackoffBase * 2^attempt for attempt 1, 2, 3...
func (p *RetryPolicy) newBackoff() retry.Backoff {
	maxAttempts := p.config.MaxAttempts
	if maxAttempts > 1000 {
		maxAttempts = 1000
	}
	maxRetries := maxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	var b retry.Backoff = retry.NewExponential(2 * p.config.BackoffBase)
	if p.config.Jitter > 0 {
		b = retry.WithJitter(p.config.Jitter, b)
	}
	if p.config.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.config.MaxDelay, b)
	}

	return retry.WithMaxRetries(uint64(maxRetries), b) // #nosec G115 - bounds checked above
}

func (p *RetryPolicy) reportRetry(info RetryInfo) {
	p.logger.Debug("retrying request after delay",
		"dependency", p.dependency,
		"attempt", info.Attempt,
		"delay", info.Delay,
		"error", info.Err)

	if p.config.OnRetry != nil {
		p.config.OnRetry(info)
	}
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time `json:"last_attempt_time"`

	// LastError is the last error encountered (if any)
	LastError error `json:"-"`

	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64 `json:"total_attempts"`

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64 `json:"total_retries"`

	// TotalSuccesses is the number of successful logical calls
	TotalSuccesses int64 `json:"total_successes"`

	// TotalFailures is the number of failed logical calls
	TotalFailures int64 `json:"total_failures"`

	// TotalExhausted is the number of failed logical calls that used every attempt
	TotalExhausted int64 `json:"total_exhausted"`
}

// GetRetryStats returns a snapshot of the policy's counters.
func (p *RetryPolicy) GetRetryStats() RetryStats {
	p.stats.mu.RLock()
	defer p.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   p.stats.totalAttempts,
		TotalRetries:    p.stats.totalRetries,
		TotalSuccesses:  p.stats.totalSuccesses,
		TotalFailures:   p.stats.totalFailures,
		TotalExhausted:  p.stats.totalExhausted,
		LastAttemptTime: p.stats.lastAttemptTime,
		LastError:       p.stats.lastError,
	}
}
