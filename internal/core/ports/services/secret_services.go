package services

import (
	"context"

	"github.com/gasops/bankbridge/internal/core/domain"
)

// SecretProvider hands out per-bank secret material from an external secret
// store. Implementations must never log or persist what they return.
type SecretProvider interface {
	// GetCredentials returns the SFTP credentials for a bank.
	GetCredentials(ctx context.Context, bankCode string) (domain.Credentials, error)

	// GetKeyPair returns the PGP key material for a bank exchange.
	GetKeyPair(ctx context.Context, bankCode string) (domain.KeyPair, error)
}

// BankDirectory resolves bank configurations loaded at startup.
type BankDirectory interface {
	// Get returns the configuration for one bank code.
	Get(bankCode string) (domain.BankConfiguration, error)

	// All returns every configured bank.
	All() []domain.BankConfiguration
}
