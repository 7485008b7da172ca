// Package posting turns business events into balanced journal entries.
//
// Every operation follows the same order: the period guard runs first, then
// a single transaction locks the source record, checks it has not been
// posted yet, resolves every account, builds and validates the lines in
// memory, and only then writes the sub-record, the journal and the source
// status. Integration events are published after commit.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retailops/backoffice/internal/accounting/journals"
	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/numbering"
	"github.com/retailops/backoffice/internal/accounting/shared"
)

// Posting outcomes reported to the Recorder.
const (
	OutcomePosted        = "posted"
	OutcomeAlreadyPosted = "already_posted"
	OutcomeSkipped       = "skipped"
	OutcomeBlocked       = "blocked"
	OutcomeRejected      = "rejected"
	OutcomeFailed        = "failed"
)

// Config carries the legacy last-resort account codes.
type Config struct {
	DefaultCashCode string
	DefaultBankCode string
}

// Engine posts journals for business events.
type Engine struct {
	store     Store
	resolver  AccountResolver
	banks     BankLedger
	guard     PeriodGuard
	publisher Publisher
	metrics   Recorder
	logger    *slog.Logger
	cfg       Config
}

// NewEngine builds Engine. Publisher, metrics and logger may be nil.
func NewEngine(store Store, resolver AccountResolver, banks BankLedger, guard PeriodGuard, publisher Publisher, metrics Recorder, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		resolver:  resolver,
		banks:     banks,
		guard:     guard,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// postingFunc builds and writes one posting. today is the date the period
// guard approved.
type postingFunc func(ctx context.Context, tx TxStore, today time.Time) (Result, error)

func (e *Engine) run(ctx context.Context, event string, fn postingFunc) (Result, error) {
	today, err := e.guard.Ensure(ctx)
	if err != nil {
		e.observe(event, OutcomeBlocked)
		return Result{}, err
	}
	var res Result
	err = e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		res, err = fn(ctx, tx, today)
		return err
	})
	if err != nil {
		// Lost the race against a concurrent posting of the same reference.
		if errors.Is(err, shared.ErrAlreadyPosted) {
			e.observe(event, OutcomeAlreadyPosted)
			return alreadyPosted(event, nil), nil
		}
		e.observe(event, outcomeOf(err))
		return Result{}, err
	}
	switch {
	case res.AlreadyPosted:
		e.observe(event, OutcomeAlreadyPosted)
	case res.Entry == nil:
		e.observe(event, OutcomeSkipped)
	default:
		e.observe(event, OutcomePosted)
		e.publish(ctx, res)
	}
	return res, nil
}

func outcomeOf(err error) string {
	var cfgErr *ConfigError
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrSourceNotFound),
		errors.Is(err, shared.ErrUnbalanced),
		errors.Is(err, shared.ErrTooFewLines):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

func (e *Engine) observe(event, outcome string) {
	if e.metrics != nil {
		e.metrics.ObservePosting(event, outcome)
	}
}

func (e *Engine) publish(ctx context.Context, res Result) {
	entry := res.Entry
	e.logger.Info("journal posted",
		slog.String("event", res.Event),
		slog.String("entry_no", entry.EntryNo),
		slog.String("reference_id", entry.ReferenceID.String()),
		slog.String("total", entry.TotalDebit.StringFixed(2)))
	if e.publisher == nil {
		return
	}
	evt := JournalPosted{
		EntryID:       entry.ID,
		EntryNo:       entry.EntryNo,
		Event:         res.Event,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
		EntryDate:     entry.EntryDate,
		TotalDebit:    entry.TotalDebit,
		TotalCredit:   entry.TotalCredit,
		Lines:         len(entry.Lines),
	}
	if err := e.publisher.Publish(ctx, entry.ID.String(), evt); err != nil {
		e.logger.Warn("publish journal posted", slog.String("entry_no", entry.EntryNo), slog.Any("error", err))
	}
}

// persist numbers and writes a validated draft.
func (e *Engine) persist(ctx context.Context, tx TxStore, draft journals.Draft) (journals.JournalEntry, error) {
	entryNo, err := tx.NextNumber(ctx, numbering.PrefixJournal, draft.EntryDate)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	return tx.InsertJournal(ctx, entryNo, draft)
}

// replay answers a repeated idempotency key with the journal posted the
// first time.
func (e *Engine) replay(ctx context.Context, tx TxStore, event string, ref uuid.UUID) (Result, error) {
	id, ok, err := tx.FindJournal(ctx, event, ref)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return alreadyPosted(event, nil), nil
	}
	return alreadyPosted(event, &id), nil
}

func (e *Engine) claim(ctx context.Context, tx TxStore, key, module string, target, ref uuid.UUID) (uuid.UUID, bool, error) {
	if key == "" {
		return uuid.Nil, true, nil
	}
	return tx.ClaimKey(ctx, key, module, target, ref)
}

// account resolves a required account. Missing configuration becomes a
// *ConfigError; store failures pass through untouched.
func (e *Engine) account(ctx context.Context, lookup mappings.Lookup) (uuid.UUID, error) {
	id, err := e.resolver.Resolve(ctx, lookup)
	if err != nil {
		if errors.Is(err, shared.ErrAccountNotResolved) {
			return uuid.Nil, &ConfigError{Event: lookup.EventType, Err: err}
		}
		return uuid.Nil, err
	}
	return id, nil
}

// feeAccount resolves the marketplace fee expense account. A fee without an
// account is a hard failure.
func (e *Engine) feeAccount(ctx context.Context, marketplace string) (uuid.UUID, error) {
	id, err := e.resolver.Resolve(ctx, mappings.Lookup{
		EventType:       EventSalesFee,
		Context:         marketplace,
		Side:            mappings.SideDebit,
		MarketplaceCode: marketplace,
		FallbackKey:     SettingMarketplaceFee,
	})
	if err != nil {
		if errors.Is(err, shared.ErrAccountNotResolved) {
			return uuid.Nil, &ConfigError{Event: EventSalesFee, Err: fmt.Errorf("%w: %w", ErrFeeAccountMissing, err)}
		}
		return uuid.Nil, err
	}
	return id, nil
}

// settlement resolves the cash, bank or receivable leg for a payment method.
func (e *Engine) settlement(ctx context.Context, event string, side mappings.Side, method, marketplace string) (uuid.UUID, error) {
	lookup := mappings.Lookup{EventType: event, Context: method, Side: side, MarketplaceCode: marketplace}
	switch method {
	case MethodCash:
		lookup.FallbackKey = SettingCash
		lookup.FallbackCode = e.cfg.DefaultCashCode
	case MethodBank:
		lookup.FallbackKey = SettingBank
		lookup.FallbackCode = e.cfg.DefaultBankCode
	case MethodCredit:
		lookup.FallbackKey = SettingReceivable
	case MethodMarketplace:
		lookup.FallbackKey = SettingMarketplaceReceivable
	default:
		return uuid.Nil, invalidf("unsupported payment method %q", method)
	}
	return e.account(ctx, lookup)
}

// bankAccount resolves the ledger account linked to a bank account.
func (e *Engine) bankAccount(ctx context.Context, event string, bankAccountID uuid.UUID) (uuid.UUID, error) {
	if e.banks == nil {
		return uuid.Nil, &ConfigError{Event: event, Err: ErrBankLedgerUnresolved}
	}
	id, err := e.banks.BankLedgerAccount(ctx, bankAccountID)
	if err != nil {
		if errors.Is(err, shared.ErrAccountNotFound) {
			return uuid.Nil, &ConfigError{Event: event, Err: fmt.Errorf("%w: bank account %s has no ledger account", ErrBankLedgerUnresolved, bankAccountID)}
		}
		return uuid.Nil, err
	}
	return id, nil
}

func normalizeMethod(method string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "transfer" {
		return MethodBank
	}
	return m
}

func leg(event, tag string, side mappings.Side, fallbackKey string) mappings.Lookup {
	return mappings.Lookup{EventType: event, Context: tag, Side: side, FallbackKey: fallbackKey}
}
