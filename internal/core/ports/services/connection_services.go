package services

import "context"

// Connection is one live SFTP session as the transfer executor sees it.
type Connection interface {
	// WriteFile writes data to path, returning the byte count written.
	WriteFile(path string, data []byte) (int64, error)

	// ReadFile reads the whole remote file at path.
	ReadFile(path string) ([]byte, error)

	// Rename atomically moves oldPath to newPath on the remote side.
	Rename(oldPath, newPath string) error

	// Remove deletes the remote file at path.
	Remove(path string) error

	// Size returns the remote file size, or an error if it does not exist.
	Size(path string) (int64, error)

	// Keepalive sends a no-op request to check the session is still alive.
	Keepalive() error

	// Close tears the session down.
	Close() error
}

// ConnectionPoolSvc hands out pooled per-bank connections. Within one bank,
// concurrency is bounded by that bank's pool size.
type ConnectionPoolSvc interface {
	// Acquire returns an idle health-checked connection or dials a new one,
	// blocking up to the pool's acquire timeout when the pool is at max.
	Acquire(ctx context.Context, bankCode string) (Connection, error)

	// Release returns the connection to the pool; unhealthy connections are
	// discarded instead.
	Release(bankCode string, conn Connection, healthy bool)

	// Close shuts every pool down.
	Close()
}
