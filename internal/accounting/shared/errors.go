package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrPeriodClosed indicates no open period covers the posting date.
	ErrPeriodClosed = errors.New("accounting: period is not open")
	// ErrAlreadyPosted indicates a journal already exists for the reference.
	ErrAlreadyPosted = errors.New("accounting: reference already posted")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrAccountNotResolved indicates every resolution tier came back empty.
	ErrAccountNotResolved = errors.New("accounting: account not resolved")
	// ErrAccountNotFound indicates a chart of accounts lookup miss.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrInvalidMapping indicates an administrative mapping row failed validation.
	ErrInvalidMapping = errors.New("accounting: invalid account mapping")
)
