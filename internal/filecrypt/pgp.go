// Package filecrypt protects exchanged payment files with PGP: outbound files
// are encrypted to the bank's public key and signed with the operator's
// private key; inbound files must decrypt and verify before a single byte
// reaches the codec.
package filecrypt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/gasops/bankbridge/internal/apperrors"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// Handler implements the FileCipherSvc facade. Key material is fetched per
// call from the injected secret provider and never retained or logged.
type Handler struct {
	secrets portssvc.SecretProvider
}

// NewHandler creates a PGP handler backed by the given secret provider.
func NewHandler(secrets portssvc.SecretProvider) *Handler {
	return &Handler{secrets: secrets}
}

var _ portssvc.FileCipherSvc = (*Handler)(nil)

// EncryptAndSign encrypts plaintext for the bank and signs it with the
// operator key. The signature is embedded (sign-then-encrypt), so the bank
// receives one artifact per exchange.
func (h *Handler) EncryptAndSign(ctx context.Context, plaintext []byte, bankCode string) ([]byte, error) {
	kp, err := h.secrets.GetKeyPair(ctx, bankCode)
	if err != nil {
		return nil, fmt.Errorf("fetch key pair for bank %s: %w", bankCode, err)
	}

	recipients, err := readKeyRing(kp.BankPublicKey, "")
	if err != nil {
		return nil, fmt.Errorf("read public key for bank %s: %w", bankCode, err)
	}
	signers, err := readKeyRing(kp.OperatorPrivateKey, kp.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("read operator signing key: %w", err)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("operator key ring is empty")
	}

	var out bytes.Buffer
	w, err := openpgp.Encrypt(&out, recipients, signers[0], nil, nil)
	if err != nil {
		return nil, fmt.Errorf("start pgp encryption for bank %s: %w", bankCode, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write pgp payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize pgp message: %w", err)
	}
	return out.Bytes(), nil
}

// DecryptAndVerify decrypts ciphertext with the operator key and verifies the
// bank's signature. Any decryption or verification failure returns
// apperrors.ErrVerification with no plaintext; the caller quarantines the file.
func (h *Handler) DecryptAndVerify(ctx context.Context, ciphertext []byte, bankCode string) ([]byte, error) {
	kp, err := h.secrets.GetKeyPair(ctx, bankCode)
	if err != nil {
		return nil, fmt.Errorf("fetch key pair for bank %s: %w", bankCode, err)
	}

	operator, err := readKeyRing(kp.OperatorPrivateKey, kp.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("read operator key: %w", err)
	}
	bank, err := readKeyRing(kp.BankPublicKey, "")
	if err != nil {
		return nil, fmt.Errorf("read public key for bank %s: %w", bankCode, err)
	}

	keyring := make(openpgp.EntityList, 0, len(operator)+len(bank))
	keyring = append(keyring, operator...)
	keyring = append(keyring, bank...)

	md, err := openpgp.ReadMessage(bytes.NewReader(ciphertext), keyring, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt failed for bank %s: %v", apperrors.ErrVerification, bankCode, err)
	}
	// The signature trailer is only checked once the body has been fully
	// drained, so read everything before inspecting SignatureError.
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("%w: reading message body for bank %s: %v", apperrors.ErrVerification, bankCode, err)
	}
	if md.SignatureError != nil {
		return nil, fmt.Errorf("%w: bank %s signature invalid: %v", apperrors.ErrVerification, bankCode, md.SignatureError)
	}
	if !md.IsSigned {
		return nil, fmt.Errorf("%w: message from bank %s is unsigned", apperrors.ErrVerification, bankCode)
	}
	if md.SignedBy == nil {
		return nil, fmt.Errorf("%w: message from bank %s signed by an unknown key", apperrors.ErrVerification, bankCode)
	}
	return plaintext, nil
}

// readKeyRing parses an armored key ring, unlocking encrypted private keys
// with the passphrase when one is supplied.
func readKeyRing(armored, passphrase string) (openpgp.EntityList, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		return entities, nil
	}
	for _, e := range entities {
		if e.PrivateKey != nil && e.PrivateKey.Encrypted {
			if err := e.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("unlock private key: %w", err)
			}
		}
		for _, sub := range e.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("unlock subkey: %w", err)
				}
			}
		}
	}
	return entities, nil
}
