package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// HeaderRequestID is the header carrying the inbound request's trace ID.
const HeaderRequestID = "X-Request-ID"

// LoggingInterceptor emits structured records around each logical call. It
// never alters the request, the response or the error.
type LoggingInterceptor struct {
	config     *LoggingConfig
	logger     *slog.Logger
	clock      Clock
	dependency string
}

// NewLoggingInterceptor creates a logging interceptor for the named dependency.
func NewLoggingInterceptor(dependency string, opts ...LoggingOption) *LoggingInterceptor {
	config := DefaultLoggingConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}

	return &LoggingInterceptor{
		config:     config,
		logger:     config.Logger,
		clock:      config.Clock,
		dependency: dependency,
	}
}

// Name implements Interceptor.
func (l *LoggingInterceptor) Name() string { return "logging" }

// Wrap implements Interceptor.
func (l *LoggingInterceptor) Wrap(next Call) Call {
	return func(ctx context.Context, req *Request) (*Response, error) {
		ctx, attempts := withAttemptCounter(ctx)

		attrs := l.requestAttrs(req)
		if l.config.LogBodies && len(req.Body) > 0 {
			l.logger.Debug("sending request", append(attrs, "request_body", l.truncate(req.Body))...)
		} else {
			l.logger.Debug("sending request", attrs...)
		}

		start := l.clock.Now()
		resp, err := next(ctx, req)
		elapsed := l.clock.Since(start)

		attrs = append(attrs,
			"attempts", attempts.Load(),
			"outcome", Outcome(err),
			"duration_ms", elapsed.Milliseconds())

		if err != nil {
			if code := extractStatusCode(err); code != 0 {
				attrs = append(attrs, "status", code)
			}
			l.logger.Warn("request failed", append(attrs, "error", err)...)
			return resp, err
		}

		attrs = append(attrs, "status", resp.StatusCode)
		if l.config.LogBodies && len(resp.Body) > 0 {
			attrs = append(attrs, "response_body", l.truncate(resp.Body))
		}
		l.logger.Info("request completed", attrs...)
		return resp, nil
	}
}

// LogRetry records a retry decision reported by the retry policy.
func (l *LoggingInterceptor) LogRetry(info RetryInfo) {
	attrs := []any{"dependency", l.dependency}
	if info.Request != nil {
		attrs = l.requestAttrs(info.Request)
	}
	l.logger.Warn("retrying request",
		append(attrs,
			"attempt", info.Attempt,
			"delay_ms", info.Delay.Milliseconds(),
			"error", info.Err)...)
}

func (l *LoggingInterceptor) requestAttrs(req *Request) []any {
	attrs := []any{
		"dependency", l.dependency,
		"method", req.Method,
		"path", req.Path,
	}
	if id := req.Header.Get(HeaderRequestID); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	return attrs
}

func (l *LoggingInterceptor) truncate(body []byte) string {
	if l.config.MaxBodyLogBytes > 0 && len(body) > l.config.MaxBodyLogBytes {
		return string(body[:l.config.MaxBodyLogBytes]) + "...(truncated)"
	}
	return string(body)
}

// Outcome returns a short label for the result of a call, used in log
// records and metric labels.
func Outcome(err error) string {
	var (
		exhausted *ExhaustedRetriesError
		network   *TransientNetworkError
		status    *RetryableStatusError
		client    *ClientError
	)

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &exhausted):
		return "exhausted"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &network):
		return "transient_network"
	case errors.As(err, &status):
		return "retryable_status"
	case errors.As(err, &client):
		return "client_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}

type attemptCounterKey struct{}

func withAttemptCounter(ctx context.Context) (context.Context, *atomic.Int64) {
	counter := &atomic.Int64{}
	return context.WithValue(ctx, attemptCounterKey{}, counter), counter
}

// countAttempt increments the attempt counter installed by the logging
// interceptor, if any.
func countAttempt(ctx context.Context) {
	if counter, ok := ctx.Value(attemptCounterKey{}).(*atomic.Int64); ok {
		counter.Add(1)
	}
}
