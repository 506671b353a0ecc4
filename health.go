package aggregator

import "time"

// HealthStatus represents the health of one dependency client.
// It provides a strongly-typed alternative to map[string]interface{} for health checks.
type HealthStatus struct {
	// OpenedAt is when the breaker last opened; nil unless the breaker is open.
	OpenedAt *time.Time `json:"opened_at,omitempty"`

	// Retry holds the dependency's retry counters, when known.
	Retry *RetryStats `json:"retry,omitempty"`

	// Dependency is the name of the backend service.
	Dependency string `json:"dependency"`

	// State is the circuit breaker state ("closed", "half-open", "open").
	State string `json:"state"`

	// Healthy is false only while the breaker is open. A half-open breaker is
	// degraded but operational.
	Healthy bool `json:"healthy"`

	// ConsecutiveFailures is the breaker's current failure tally.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// TotalSuccesses is the number of attempts the breaker recorded as successful.
	TotalSuccesses uint64 `json:"total_successes"`

	// TotalFailures is the number of breaker-counted failures.
	TotalFailures uint64 `json:"total_failures"`

	// TotalRejections is the number of calls rejected without a network attempt.
	TotalRejections uint64 `json:"total_rejections"`
}
