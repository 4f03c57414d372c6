package services

import (
	"sort"
	"sync"
	"time"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// CircuitBreakerConfig tunes the per-bank breaker state machine.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Banking integrations default to 3.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit rejects calls before
	// admitting a half-open probe.
	RecoveryTimeout time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 10 * time.Minute
	}
	return c
}

type breakerEntry struct {
	state          domain.BreakerState
	failures       int
	lastTransition time.Time
	probing        bool
}

// circuitBreakerService holds one breaker per bank for the process lifetime.
// The mutex is the single mutation point: transitions are linearizable across
// concurrent callers, so two simultaneous failures can neither double-open
// nor lose a count.
type circuitBreakerService struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	banks map[string]*breakerEntry
	now   func() time.Time
}

// BreakerOption is a functional option for configuring the breaker service.
type BreakerOption func(*circuitBreakerService)

// WithBreakerClock overrides the clock, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(s *circuitBreakerService) {
		s.now = now
	}
}

// NewCircuitBreakerService creates the per-bank breaker registry.
func NewCircuitBreakerService(cfg CircuitBreakerConfig, options ...BreakerOption) portssvc.CircuitBreakerSvc {
	svc := &circuitBreakerService{
		cfg:   cfg.withDefaults(),
		banks: make(map[string]*breakerEntry),
		now:   time.Now,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

var _ portssvc.CircuitBreakerSvc = (*circuitBreakerService)(nil)

func (s *circuitBreakerService) entry(bankCode string) *breakerEntry {
	e, ok := s.banks[bankCode]
	if !ok {
		e = &breakerEntry{state: domain.BreakerClosed, lastTransition: s.now()}
		s.banks[bankCode] = e
	}
	return e
}

// Allow admits or rejects a call. An open circuit past its recovery timeout
// moves to half-open and admits this one call as the trial probe.
func (s *circuitBreakerService) Allow(bankCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(bankCode)
	now := s.now()

	switch e.state {
	case domain.BreakerClosed:
		return nil
	case domain.BreakerOpen:
		elapsed := now.Sub(e.lastTransition)
		if elapsed < s.cfg.RecoveryTimeout {
			return &apperrors.CircuitOpenError{
				BankCode:   bankCode,
				OpenedAt:   e.lastTransition,
				RetryAfter: s.cfg.RecoveryTimeout - elapsed,
			}
		}
		e.state = domain.BreakerHalfOpen
		e.lastTransition = now
		e.probing = true
		return nil
	case domain.BreakerHalfOpen:
		if e.probing {
			// Exactly one trial call at a time.
			return &apperrors.CircuitOpenError{BankCode: bankCode, OpenedAt: e.lastTransition}
		}
		e.probing = true
		return nil
	}
	return nil
}

// ReportSuccess records a successful call: half-open closes the circuit and
// resets the failure count.
func (s *circuitBreakerService) ReportSuccess(bankCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(bankCode)
	switch e.state {
	case domain.BreakerHalfOpen:
		e.state = domain.BreakerClosed
		e.lastTransition = s.now()
	}
	e.failures = 0
	e.probing = false
}

// ReportFailure records a failed call: the closed counter opens the circuit
// at the threshold; a failed half-open probe re-opens it with a fresh timer.
func (s *circuitBreakerService) ReportFailure(bankCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(bankCode)
	switch e.state {
	case domain.BreakerClosed:
		e.failures++
		if e.failures >= s.cfg.FailureThreshold {
			e.state = domain.BreakerOpen
			e.lastTransition = s.now()
		}
	case domain.BreakerHalfOpen:
		e.state = domain.BreakerOpen
		e.lastTransition = s.now()
		e.probing = false
	}
}

// Snapshot returns every breaker's state for the monitoring surface.
func (s *circuitBreakerService) Snapshot() []domain.CircuitBreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CircuitBreakerState, 0, len(s.banks))
	for code, e := range s.banks {
		out = append(out, domain.CircuitBreakerState{
			BankCode:            code,
			State:               e.state,
			ConsecutiveFailures: e.failures,
			LastTransition:      e.lastTransition,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankCode < out[j].BankCode })
	return out
}
