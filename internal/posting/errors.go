package posting

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound indicates the referenced source record does not exist.
	ErrSourceNotFound = errors.New("posting: source record not found")
	// ErrFeeAccountMissing indicates a nonzero fee without a fee account.
	ErrFeeAccountMissing = errors.New("posting: fee account not configured")
	// ErrBankLedgerUnresolved indicates a bank payment whose ledger account is unknown.
	ErrBankLedgerUnresolved = errors.New("posting: bank ledger account not resolved")
	// ErrInvalidInput indicates a malformed posting request.
	ErrInvalidInput = errors.New("posting: invalid input")
)

// ConfigError reports a posting aborted by missing account configuration.
// The administrator has to fix the mapping table or settings; retrying does
// not help.
type ConfigError struct {
	Event string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("posting: %s: %v", e.Event, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
