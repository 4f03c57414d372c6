package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/core/services"
)

type CircuitBreakerTestSuite struct {
	suite.Suite
	clock   time.Time
	breaker portssvc.CircuitBreakerSvc
}

func (suite *CircuitBreakerTestSuite) SetupTest() {
	suite.clock = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	suite.breaker = services.NewCircuitBreakerService(
		services.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: 10 * time.Minute},
		services.WithBreakerClock(func() time.Time { return suite.clock }),
	)
}

func (suite *CircuitBreakerTestSuite) advance(d time.Duration) {
	suite.clock = suite.clock.Add(d)
}

func (suite *CircuitBreakerTestSuite) TestClosedAllowsCalls() {
	suite.NoError(suite.breaker.Allow("004"))
	suite.breaker.ReportSuccess("004")
	suite.NoError(suite.breaker.Allow("004"))
}

func (suite *CircuitBreakerTestSuite) TestOpensAfterThresholdFailures() {
	for i := 0; i < 3; i++ {
		suite.NoError(suite.breaker.Allow("004"))
		suite.breaker.ReportFailure("004")
	}

	err := suite.breaker.Allow("004")
	suite.Require().Error(err)
	var coe *apperrors.CircuitOpenError
	suite.Require().ErrorAs(err, &coe)
	suite.Equal("004", coe.BankCode)
	suite.Equal(10*time.Minute, coe.RetryAfter)
}

func (suite *CircuitBreakerTestSuite) TestSuccessResetsFailureCount() {
	suite.breaker.ReportFailure("004")
	suite.breaker.ReportFailure("004")
	suite.breaker.ReportSuccess("004")
	suite.breaker.ReportFailure("004")
	suite.breaker.ReportFailure("004")

	// Still below threshold after the reset.
	suite.NoError(suite.breaker.Allow("004"))
}

func (suite *CircuitBreakerTestSuite) TestHalfOpenAdmitsSingleProbe() {
	for i := 0; i < 3; i++ {
		suite.breaker.ReportFailure("004")
	}
	suite.advance(10 * time.Minute)

	// First call is the probe, a concurrent second call is rejected.
	suite.NoError(suite.breaker.Allow("004"))
	err := suite.breaker.Allow("004")
	var coe *apperrors.CircuitOpenError
	suite.Require().ErrorAs(err, &coe)
}

func (suite *CircuitBreakerTestSuite) TestProbeSuccessClosesCircuit() {
	for i := 0; i < 3; i++ {
		suite.breaker.ReportFailure("004")
	}
	suite.advance(11 * time.Minute)

	suite.NoError(suite.breaker.Allow("004"))
	suite.breaker.ReportSuccess("004")

	snapshot := suite.breaker.Snapshot()
	suite.Require().Len(snapshot, 1)
	suite.Equal(domain.BreakerClosed, snapshot[0].State)
	suite.Equal(0, snapshot[0].ConsecutiveFailures)
	suite.NoError(suite.breaker.Allow("004"))
}

func (suite *CircuitBreakerTestSuite) TestProbeFailureReopensWithFreshTimer() {
	for i := 0; i < 3; i++ {
		suite.breaker.ReportFailure("004")
	}
	suite.advance(10 * time.Minute)

	suite.NoError(suite.breaker.Allow("004"))
	suite.breaker.ReportFailure("004")

	// Reopened: rejected until another full recovery timeout passes.
	suite.advance(5 * time.Minute)
	suite.Error(suite.breaker.Allow("004"))
	suite.advance(5 * time.Minute)
	suite.NoError(suite.breaker.Allow("004"))
}

func (suite *CircuitBreakerTestSuite) TestBanksAreIndependent() {
	for i := 0; i < 3; i++ {
		suite.breaker.ReportFailure("004")
	}

	suite.Error(suite.breaker.Allow("004"))
	suite.NoError(suite.breaker.Allow("812"))

	snapshot := suite.breaker.Snapshot()
	suite.Require().Len(snapshot, 2)
	suite.Equal("004", snapshot[0].BankCode)
	suite.Equal(domain.BreakerOpen, snapshot[0].State)
	suite.Equal("812", snapshot[1].BankCode)
	suite.Equal(domain.BreakerClosed, snapshot[1].State)
}

func TestCircuitBreakerTestSuite(t *testing.T) {
	suite.Run(t, new(CircuitBreakerTestSuite))
}
