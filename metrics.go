package aggregator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for every dependency client.
// All methods are safe on a nil receiver, which disables metrics.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_dependency_requests_total",
				Help: "Logical calls to a dependency by outcome",
			},
			[]string{"dependency", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aggregator_dependency_request_duration_seconds",
				Help:    "Duration of logical calls to a dependency, retries and waits included",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"dependency"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_dependency_retries_total",
				Help: "Retry attempts scheduled for a dependency",
			},
			[]string{"dependency"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aggregator_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"dependency"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_circuit_breaker_rejections_total",
				Help: "Calls rejected by an open circuit breaker without a network attempt",
			},
			[]string{"dependency"},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration, m.retries, m.state, m.transitions, m.rejections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest records the outcome and duration of a logical call.
func (m *Metrics) ObserveRequest(dependency string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	m.requests.WithLabelValues(dependency, outcome).Inc()
	m.duration.WithLabelValues(dependency).Observe(elapsed.Seconds())
	if outcome == "circuit_open" {
		m.rejections.WithLabelValues(dependency).Inc()
	}
}

// ObserveRetry records one scheduled retry.
func (m *Metrics) ObserveRetry(dependency string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(dependency).Inc()
}

// ObserveStateChange records a breaker transition.
func (m *Metrics) ObserveStateChange(dependency string, from, to CircuitBreakerState) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(dependency).Set(float64(to))
	m.transitions.WithLabelValues(dependency, from.String(), to.String()).Inc()
}

// InitDependency publishes the closed state for a new dependency so the gauge
// exists before the first transition.
func (m *Metrics) InitDependency(dependency string) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(dependency).Set(float64(StateClosed))
}

// Requests returns the logical call counter.
func (m *Metrics) Requests() *prometheus.CounterVec { return m.requests }

// Retries returns the retry counter.
func (m *Metrics) Retries() *prometheus.CounterVec { return m.retries }

// StateGauge returns the breaker state gauge.
func (m *Metrics) StateGauge() *prometheus.GaugeVec { return m.state }

// Transitions returns the breaker transition counter.
func (m *Metrics) Transitions() *prometheus.CounterVec { return m.transitions }

// Rejections returns the breaker rejection counter.
func (m *Metrics) Rejections() *prometheus.CounterVec { return m.rejections }
