// Package metrics records ledger and gateway instrumentation.
package metrics

import "time"

// Collector receives measurements from the ledger engine and the gateway middleware.
type Collector interface {
	// RecordOperation observes one ledger operation and its outcome class.
	RecordOperation(operation, outcome string, duration time.Duration)

	// RecordCircuitState reports a circuit breaker transition.
	RecordCircuitState(name string, state CircuitState)

	// RecordIdempotentReplay counts responses served from the idempotency cache.
	RecordIdempotentReplay(route string)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the dependency has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector discards every measurement.
type NoOpCollector struct{}

// RecordOperation does nothing.
func (NoOpCollector) RecordOperation(string, string, time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(string, CircuitState) {}

// RecordIdempotentReplay does nothing.
func (NoOpCollector) RecordIdempotentReplay(string) {}
