package services

// ServiceContainer holds all the service facades the handlers depend on.
type ServiceContainer struct {
	Batch          BatchSvc
	Reconciliation ReconciliationSvc
	Transfer       TransferExecutorSvc
	Retry          RetryQueueSvc
	Breaker        CircuitBreakerSvc
	Cipher         FileCipherSvc
}
