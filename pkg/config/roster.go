package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// BankRoster is the validated, immutable set of bank endpoints loaded at
// startup. It implements the BankDirectory port.
type BankRoster struct {
	banks map[string]domain.BankConfiguration
	order []string
}

var _ portssvc.BankDirectory = (*BankRoster)(nil)

// LoadBankRoster reads and validates the YAML roster at path. Every entry
// must pass validation; a single bad entry fails startup rather than running
// with a partial roster.
func LoadBankRoster(path string) (*BankRoster, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read bank roster %s: %w", path, err)
	}

	var raw struct {
		Banks []domain.BankConfiguration `mapstructure:"banks"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("parse bank roster %s: %w", path, err)
	}
	if len(raw.Banks) == 0 {
		return nil, fmt.Errorf("bank roster %s contains no banks", path)
	}

	validate := validator.New()
	roster := &BankRoster{banks: make(map[string]domain.BankConfiguration, len(raw.Banks))}
	for _, bank := range raw.Banks {
		if err := validate.Struct(bank); err != nil {
			return nil, fmt.Errorf("%w: bank %q: %v", apperrors.ErrValidation, bank.BankCode, err)
		}
		if _, exists := roster.banks[bank.BankCode]; exists {
			return nil, fmt.Errorf("%w: duplicate bank code %q in roster", apperrors.ErrValidation, bank.BankCode)
		}
		roster.banks[bank.BankCode] = bank
		roster.order = append(roster.order, bank.BankCode)
	}
	return roster, nil
}

// Get returns the configuration for one bank code.
func (r *BankRoster) Get(bankCode string) (domain.BankConfiguration, error) {
	bank, ok := r.banks[bankCode]
	if !ok {
		return domain.BankConfiguration{}, fmt.Errorf("%w: bank %q is not in the roster", apperrors.ErrNotFound, bankCode)
	}
	return bank, nil
}

// All returns every configured bank in roster order.
func (r *BankRoster) All() []domain.BankConfiguration {
	out := make([]domain.BankConfiguration, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.banks[code])
	}
	return out
}
