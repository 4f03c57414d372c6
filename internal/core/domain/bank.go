package domain

import "time"

// FileFormat selects the payment file representation a bank accepts.
type FileFormat string

const (
	FormatFixedWidth FileFormat = "fixed_width"
	FormatCSV        FileFormat = "csv"
)

// TextEncoding selects the byte encoding of text fields in exchanged files.
type TextEncoding string

const (
	EncodingUTF8 TextEncoding = "UTF-8"
	EncodingBig5 TextEncoding = "Big5"
)

// BankConfiguration describes one bank's file exchange endpoint. Loaded from
// the bank roster at startup and validated there; immutable for the lifetime
// of an exchange cycle.
type BankConfiguration struct {
	BankCode      string       `mapstructure:"bank_code" validate:"required,alphanum"`
	Name          string       `mapstructure:"name" validate:"required"`
	Host          string       `mapstructure:"host" validate:"required,hostname|ip"`
	Port          int          `mapstructure:"port" validate:"required,min=1,max=65535"`
	Username      string       `mapstructure:"username" validate:"required"`
	UploadPath    string       `mapstructure:"upload_path" validate:"required"`
	DownloadPath  string       `mapstructure:"download_path" validate:"required"`
	FileFormat    FileFormat   `mapstructure:"file_format" validate:"required,oneof=fixed_width csv"`
	Encoding      TextEncoding `mapstructure:"encoding" validate:"required,oneof=UTF-8 Big5"`
	CSVDelimiter  string       `mapstructure:"csv_delimiter"`
	CutoffTime    string       `mapstructure:"cutoff_time" validate:"required"` // "HH:MM" local bank time
	MaxPoolSize   int          `mapstructure:"max_pool_size" validate:"min=0,max=32"`
	// CredentialsRef names the entry in the secret provider, not the secret
	// itself. Key material is never part of the roster file.
	CredentialsRef string `mapstructure:"credentials_ref" validate:"required"`
}

// Delimiter returns the CSV delimiter rune, defaulting to a comma.
func (b BankConfiguration) Delimiter() rune {
	if b.CSVDelimiter == "" {
		return ','
	}
	return []rune(b.CSVDelimiter)[0]
}

// PoolSize returns the configured pool size or the default of 5.
func (b BankConfiguration) PoolSize() int {
	if b.MaxPoolSize <= 0 {
		return 5
	}
	return b.MaxPoolSize
}

// CutoffFor resolves the bank's cutoff time on the given processing date.
func (b BankConfiguration) CutoffFor(date time.Time) time.Time {
	t, err := time.Parse("15:04", b.CutoffTime)
	if err != nil {
		// Roster validation rejects malformed cutoffs; fall back to end of day.
		return time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, date.Location())
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
}

// Credentials carries SFTP authentication material from the secret provider.
// Exactly one of Password or PrivateKeyPEM is expected to be set.
type Credentials struct {
	Username      string
	Password      string
	PrivateKeyPEM []byte
}

// KeyPair carries armored PGP key material for one bank exchange: the bank's
// public key for encryption and the operator's private key for signing.
type KeyPair struct {
	BankPublicKey      string
	OperatorPrivateKey string
	// Passphrase unlocks the operator private key when it is protected.
	Passphrase string
}
