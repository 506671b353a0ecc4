package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CircuitBreaker is the interceptor that stops calls to a failing dependency.
// One instance is owned by each DependencyClient and shared by all of its
// concurrent calls.
//
// State is guarded by a single mutex held only while deciding whether a call
// may proceed and while recording its outcome; the wrapped call runs outside
// the lock. Every transition bumps a generation counter, and outcomes of
// calls admitted under an earlier generation are discarded, so a burst of
// failures racing past the threshold opens the breaker exactly once.
type CircuitBreaker struct {
	config     *CircuitBreakerConfig
	clock      Clock
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
	dependency string

	mu                  sync.Mutex
	state               CircuitBreakerState
	generation          uint64
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
	totalSuccesses      uint64
	totalFailures       uint64
	totalRejections     uint64
}

type breakerOutcome int

const (
	outcomeSuccess breakerOutcome = iota
	outcomeFailure
	outcomeNeutral
)

// NewCircuitBreaker creates a breaker for the named dependency.
//
// Example:
//
//	breaker := aggregator.NewCircuitBreaker(
//	    "basket",
//	    aggregator.WithFailureThreshold(5),
//	    aggregator.WithOpenDuration(30*time.Second),
//	)
func NewCircuitBreaker(dependency string, opts ...CircuitBreakerOption) *CircuitBreaker {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}

	return &CircuitBreaker{
		config:     config,
		clock:      config.Clock,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		dependency: dependency,
		state:      StateClosed,
	}
}

// Name implements Interceptor.
func (cb *CircuitBreaker) Name() string { return "circuit-breaker" }

// Dependency returns the name of the dependency the breaker guards.
func (cb *CircuitBreaker) Dependency() string { return cb.dependency }

// Wrap implements Interceptor.
func (cb *CircuitBreaker) Wrap(next Call) Call {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return cb.Execute(ctx, req, next)
	}
}

// Execute runs next if the breaker admits the call and records its outcome.
// Rejected calls return a *CircuitOpenError without invoking next.
func (cb *CircuitBreaker) Execute(ctx context.Context, req *Request, next Call) (*Response, error) {
	generation, probe, err := cb.beforeCall()
	if err != nil {
		cb.logger.Debug("circuit breaker rejected request",
			"dependency", cb.dependency,
			"error", err)
		return nil, err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.afterCall(generation, probe, outcomeFailure)
			panic(e)
		}
	}()

	resp, err := next(ctx, req)
	cb.afterCall(generation, probe, cb.classify(err))
	return resp, err
}

// State returns the current state. Expiry of the open period is only acted
// on by the next call, so an idle breaker keeps reporting StateOpen.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerSnapshot is a consistent copy of a breaker's state.
type CircuitBreakerSnapshot struct {
	OpenedAt            time.Time
	State               CircuitBreakerState
	ConsecutiveFailures int
	TotalSuccesses      uint64
	TotalFailures       uint64
	TotalRejections     uint64
}

// Snapshot returns the breaker's state and counters read under one lock.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerSnapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
		TotalSuccesses:      cb.totalSuccesses,
		TotalFailures:       cb.totalFailures,
		TotalRejections:     cb.totalRejections,
	}
}

// GetHealth returns the health status of the circuit breaker.
func (cb *CircuitBreaker) GetHealth() HealthStatus {
	snap := cb.Snapshot()

	health := HealthStatus{
		Dependency:          cb.dependency,
		Healthy:             snap.State != StateOpen,
		State:               snap.State.String(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		TotalSuccesses:      snap.TotalSuccesses,
		TotalFailures:       snap.TotalFailures,
		TotalRejections:     snap.TotalRejections,
	}
	if snap.State == StateOpen {
		openedAt := snap.OpenedAt
		health.OpenedAt = &openedAt
	}
	return health
}

func (cb *CircuitBreaker) beforeCall() (uint64, bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()

	switch cb.state {
	case StateOpen:
		elapsed := now.Sub(cb.openedAt)
		if elapsed < cb.config.OpenDuration {
			cb.totalRejections++
			return 0, false, &CircuitOpenError{
				Dependency: cb.dependency,
				State:      StateOpen,
				OpenedAt:   cb.openedAt,
				RetryAfter: cb.config.OpenDuration - elapsed,
			}
		}
		cb.setState(StateHalfOpen, now)
		cb.probeInFlight = true
		return cb.generation, true, nil

	case StateHalfOpen:
		if cb.probeInFlight {
			cb.totalRejections++
			return 0, false, &CircuitOpenError{
				Dependency: cb.dependency,
				State:      StateHalfOpen,
				OpenedAt:   cb.openedAt,
			}
		}
		cb.probeInFlight = true
		return cb.generation, true, nil

	default:
		return cb.generation, false, nil
	}
}

func (cb *CircuitBreaker) afterCall(generation uint64, probe bool, outcome breakerOutcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}

	now := cb.clock.Now()

	switch outcome {
	case outcomeNeutral:
		if probe {
			cb.probeInFlight = false
		}

	case outcomeSuccess:
		cb.totalSuccesses++
		switch cb.state {
		case StateClosed:
			cb.consecutiveFailures = 0
		case StateHalfOpen:
			cb.setState(StateClosed, now)
		}

	case outcomeFailure:
		cb.totalFailures++
		switch cb.state {
		case StateClosed:
			cb.consecutiveFailures++
			if cb.consecutiveFailures >= cb.config.FailureThreshold {
				cb.setState(StateOpen, now)
			}
		case StateHalfOpen:
			cb.setState(StateOpen, now)
		}
	}
}

func (cb *CircuitBreaker) classify(err error) breakerOutcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case isNeutral(err):
		return outcomeNeutral
	case cb.classifier.ShouldTripCircuit(err):
		return outcomeFailure
	default:
		return outcomeSuccess
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to CircuitBreakerState, now time.Time) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.generation++
	cb.consecutiveFailures = 0
	cb.probeInFlight = false

	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.openedAt = time.Time{}
	}

	cb.logger.Warn("circuit breaker state changed",
		"dependency", cb.dependency,
		"from", from.String(),
		"to", to.String())

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.dependency, from, to)
	}
}
