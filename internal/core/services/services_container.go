package services

import (
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/metrics"
)

// ContainerConfig carries the service-level tunables from app configuration.
type ContainerConfig struct {
	Breaker       CircuitBreakerConfig
	Retry         RetryConfig
	MaxAttempts   int
	QuarantineDir string
}

// NewServiceContainer wires the full service graph on top of the repository
// provider, bank directory, connection pool and file cipher.
func NewServiceContainer(repos repositories.RepositoryProvider, banks portssvc.BankDirectory,
	pool portssvc.ConnectionPoolSvc, cipher portssvc.FileCipherSvc,
	reg *metrics.Registry, cfg ContainerConfig) *portssvc.ServiceContainer {

	breaker := NewCircuitBreakerService(cfg.Breaker)
	executor := NewTransferExecutorService(pool, breaker, repos.TransferRepo, reg, cfg.MaxAttempts)
	retry := NewRetryQueueService(repos.TransferRepo, executor, cfg.Retry)
	batch := NewBatchService(repos.BatchRepo, banks, cipher, executor, retry)
	recon := NewReconciliationService(repos.BatchRepo, banks, cipher, executor, cfg.QuarantineDir)

	return &portssvc.ServiceContainer{
		Batch:          batch,
		Reconciliation: recon,
		Transfer:       executor,
		Retry:          retry,
		Breaker:        breaker,
		Cipher:         cipher,
	}
}
