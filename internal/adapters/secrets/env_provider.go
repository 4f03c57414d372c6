// Package secrets resolves per-bank secret material from the process
// environment. Each bank's roster entry names a credentials ref; the ref is
// expanded to a set of environment variables, optionally indirected through
// *_FILE variants so key material can be mounted instead of exported.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

const envPrefix = "BANKBRIDGE_SECRET"

// EnvProvider implements SecretProvider on top of environment variables.
// For a ref "bank-004" it reads:
//
//	BANKBRIDGE_SECRET_BANK_004_SFTP_PASSWORD
//	BANKBRIDGE_SECRET_BANK_004_SFTP_PRIVATE_KEY
//	BANKBRIDGE_SECRET_BANK_004_PGP_BANK_PUBLIC_KEY
//	BANKBRIDGE_SECRET_BANK_004_PGP_OPERATOR_PRIVATE_KEY
//	BANKBRIDGE_SECRET_BANK_004_PGP_PASSPHRASE
//
// Any of them may instead be set with a _FILE suffix pointing at a mounted
// secret file. Values are fetched per call and never cached or logged.
type EnvProvider struct {
	banks portssvc.BankDirectory
}

// NewEnvProvider creates the environment-backed secret provider.
func NewEnvProvider(banks portssvc.BankDirectory) *EnvProvider {
	return &EnvProvider{banks: banks}
}

var _ portssvc.SecretProvider = (*EnvProvider)(nil)

// GetCredentials returns the SFTP credentials for a bank.
func (p *EnvProvider) GetCredentials(ctx context.Context, bankCode string) (domain.Credentials, error) {
	bank, err := p.banks.Get(bankCode)
	if err != nil {
		return domain.Credentials{}, err
	}
	ref := refKey(bank.CredentialsRef)

	password, err := lookup(ref, "SFTP_PASSWORD", false)
	if err != nil {
		return domain.Credentials{}, err
	}
	privateKey, err := lookup(ref, "SFTP_PRIVATE_KEY", false)
	if err != nil {
		return domain.Credentials{}, err
	}
	if password == "" && privateKey == "" {
		return domain.Credentials{}, fmt.Errorf("%w: no SFTP credentials configured for bank %s",
			apperrors.ErrNotFound, bankCode)
	}
	return domain.Credentials{
		Username:      bank.Username,
		Password:      password,
		PrivateKeyPEM: []byte(privateKey),
	}, nil
}

// GetKeyPair returns the PGP key material for a bank exchange.
func (p *EnvProvider) GetKeyPair(ctx context.Context, bankCode string) (domain.KeyPair, error) {
	bank, err := p.banks.Get(bankCode)
	if err != nil {
		return domain.KeyPair{}, err
	}
	ref := refKey(bank.CredentialsRef)

	bankPub, err := lookup(ref, "PGP_BANK_PUBLIC_KEY", true)
	if err != nil {
		return domain.KeyPair{}, err
	}
	operatorPriv, err := lookup(ref, "PGP_OPERATOR_PRIVATE_KEY", true)
	if err != nil {
		return domain.KeyPair{}, err
	}
	passphrase, err := lookup(ref, "PGP_PASSPHRASE", false)
	if err != nil {
		return domain.KeyPair{}, err
	}
	return domain.KeyPair{
		BankPublicKey:      bankPub,
		OperatorPrivateKey: operatorPriv,
		Passphrase:         passphrase,
	}, nil
}

// lookup reads one secret, preferring the direct variable and falling back to
// the _FILE indirection. Required secrets that resolve empty are an error.
func lookup(ref, name string, required bool) (string, error) {
	key := fmt.Sprintf("%s_%s_%s", envPrefix, ref, name)
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	if path, ok := os.LookupEnv(key + "_FILE"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file for %s: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if required {
		return "", fmt.Errorf("%w: secret %s is not configured", apperrors.ErrNotFound, key)
	}
	return "", nil
}

// refKey normalizes a roster credentials ref into an env var fragment.
func refKey(ref string) string {
	upper := strings.ToUpper(ref)
	return strings.NewReplacer("-", "_", ".", "_").Replace(upper)
}
