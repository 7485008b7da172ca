// Package numbering issues sequential document numbers of the form
// PREFIX-YYYYMM-NNNN from a database-held counter per prefix and month.
package numbering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document prefixes.
const (
	PrefixReceipt    = "RCV"
	PrefixPayment    = "PAY"
	PrefixAdjustment = "ADJ"
	PrefixJournal    = "JE"
)

// Period returns the YYYYMM bucket for at.
func Period(at time.Time) string {
	return at.Format("200601")
}

// Format renders a document number.
func Format(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", strings.ToUpper(prefix), Period(at), seq)
}

// TxSequencer draws numbers inside a caller-owned transaction. The upsert
// holds the counter row lock until commit. The caller must run at read
// committed: there a second writer waits on the lock and then increments the
// committed value, while a repeatable-read writer fails with a serialization
// error once the first one commits.
type TxSequencer struct {
	tx pgx.Tx
}

// NewTxSequencer binds a sequencer to tx.
func NewTxSequencer(tx pgx.Tx) *TxSequencer {
	return &TxSequencer{tx: tx}
}

// Next returns the next number for prefix in the month of at.
func (s *TxSequencer) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	var seq int64
	err := s.tx.QueryRow(ctx, `INSERT INTO document_sequences (prefix, period, last_value) VALUES ($1, $2, 1)
ON CONFLICT (prefix, period) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, strings.ToUpper(prefix), Period(at)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", prefix, err)
	}
	return Format(prefix, at, seq), nil
}
