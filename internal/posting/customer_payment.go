package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
)

// PostCustomerPayment posts cash or bank received from a customer against
// accounts receivable. Bank payments prefer the bank sub-ledger linked to the
// customer.
func (e *Engine) PostCustomerPayment(ctx context.Context, paymentID uuid.UUID) (Result, error) {
	if paymentID == uuid.Nil {
		return Result{}, invalidf("customer payment id required")
	}
	return e.run(ctx, EventCustomerPayment, func(ctx context.Context, tx TxStore, today time.Time) (Result, error) {
		payment, err := tx.LockCustomerPayment(ctx, paymentID)
		if err != nil {
			return Result{}, err
		}
		if payment.Status == StatusCompleted {
			return alreadyPosted(EventCustomerPayment, payment.JournalEntryID), nil
		}
		amount := journals.Round(payment.Amount)
		if !amount.IsPositive() {
			return Result{}, invalidf("customer payment %s: amount must be positive", payment.PaymentNo)
		}
		method := normalizeMethod(payment.Method)
		if method != MethodCash && method != MethodBank {
			return Result{}, invalidf("unsupported customer payment method %q", payment.Method)
		}

		var received uuid.UUID
		if method == MethodBank {
			received, err = e.customerBank(ctx, tx, payment.CustomerID)
		} else {
			received, err = e.settlement(ctx, EventCustomerPayment, mappings.SideDebit, method, "")
		}
		if err != nil {
			return Result{}, err
		}
		receivable, err := e.account(ctx, leg(EventCustomerPayment, method, mappings.SideCredit, SettingReceivable))
		if err != nil {
			return Result{}, err
		}

		draft, err := journals.NewBuilder(EventCustomerPayment, payment.ID, today, fmt.Sprintf("Customer payment %s", payment.PaymentNo)).
			Debit(received, amount, "Payment received").
			Credit(receivable, amount, "Clear customer receivable").
			Build()
		if err != nil {
			return Result{}, err
		}
		entry, err := e.persist(ctx, tx, draft)
		if err != nil {
			return Result{}, err
		}
		if err := tx.MarkCompleted(ctx, SourceCustomerPayment, payment.ID, &entry.ID); err != nil {
			return Result{}, err
		}
		return posted(EventCustomerPayment, entry, amount), nil
	})
}

// customerBank resolves the debit account of a bank payment: the customer's
// linked bank sub-ledger first, then the bank mapping and default bank.
func (e *Engine) customerBank(ctx context.Context, tx TxStore, customerID uuid.UUID) (uuid.UUID, error) {
	linked, err := tx.CustomerBankAccount(ctx, customerID)
	if err != nil {
		return uuid.Nil, err
	}
	if linked != nil {
		id, err := e.bankAccount(ctx, EventCustomerPayment, *linked)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrBankLedgerUnresolved) {
			return uuid.Nil, err
		}
		e.logger.Warn("customer bank account has no ledger account, using default bank",
			slog.String("customer_id", customerID.String()), slog.String("bank_account_id", linked.String()))
	}
	id, err := e.settlement(ctx, EventCustomerPayment, mappings.SideDebit, MethodBank, "")
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return uuid.Nil, &ConfigError{Event: EventCustomerPayment, Err: fmt.Errorf("%w: %w", ErrBankLedgerUnresolved, cfgErr.Err)}
		}
		return uuid.Nil, err
	}
	return id, nil
}
