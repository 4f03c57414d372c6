package repositories

// RepositoryProvider bundles the repositories the service container needs.
type RepositoryProvider struct {
	BatchRepo    BatchRepository
	TransferRepo TransferAttemptRepository
}
