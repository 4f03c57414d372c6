package domain

import "time"

// BreakerState is the circuit breaker position for one bank.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreakerState is a point-in-time snapshot of one bank's breaker,
// exposed on the monitoring surface. The authoritative state lives inside the
// breaker service and is mutated only through its guarded transition function.
type CircuitBreakerState struct {
	BankCode            string       `json:"bankCode"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastTransition      time.Time    `json:"lastTransition"`
}
