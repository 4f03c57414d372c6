package dto

import (
	"time"

	"github.com/gasops/bankbridge/internal/core/domain"
	"github.com/gasops/bankbridge/internal/metrics"
)

// BreakerStateResponse is one bank's circuit breaker position.
type BreakerStateResponse struct {
	BankCode            string    `json:"bankCode"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastTransition      time.Time `json:"lastTransition"`
}

// MonitoringResponse is the aggregate stats surface: per-bank transfer
// counters, breaker states and the retry queue depth.
type MonitoringResponse struct {
	Banks           []metrics.BankStats    `json:"banks"`
	Breakers        []BreakerStateResponse `json:"breakers"`
	RetryQueueDepth int                    `json:"retryQueueDepth"`
}

// ToBreakerStateResponses converts breaker snapshots to the API shape.
func ToBreakerStateResponses(states []domain.CircuitBreakerState) []BreakerStateResponse {
	out := make([]BreakerStateResponse, len(states))
	for i, s := range states {
		out[i] = BreakerStateResponse{
			BankCode:            s.BankCode,
			State:               string(s.State),
			ConsecutiveFailures: s.ConsecutiveFailures,
			LastTransition:      s.LastTransition,
		}
	}
	return out
}
