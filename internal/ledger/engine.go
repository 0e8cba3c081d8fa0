package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/funds/internal/logging"
	"github.com/congo-pay/funds/internal/metrics"
	"github.com/congo-pay/funds/internal/wallet"
)

const (
	opCredit   = "credit"
	opDebit    = "debit"
	opTransfer = "transfer"
	opReverse  = "reverse"

	// DefaultHistoryLimit is used when History is called without a positive limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single History page.
	MaxHistoryLimit = 500
)

// Engine moves funds between wallets. Every operation is one unit of work against
// the Store; the engine itself keeps no state between calls.
type Engine struct {
	store        Store
	logger       *slog.Logger
	metrics      metrics.Collector
	now          func() time.Time
	newReference func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the collector operations are reported to.
func WithMetrics(collector metrics.Collector) Option {
	return func(e *Engine) { e.metrics = collector }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithReferenceGenerator overrides how transaction reference ids are minted.
func WithReferenceGenerator(fn func() string) Option {
	return func(e *Engine) { e.newReference = fn }
}

// NewEngine builds an engine on top of store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		logger:       logging.Discard(),
		metrics:      metrics.NoOpCollector{},
		now:          func() time.Time { return time.Now().UTC() },
		newReference: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Credit adds amount to the wallet identified by walletID and currencyCode.
func (e *Engine) Credit(ctx context.Context, walletID int64, currencyCode string, amount decimal.Decimal) (res Transaction, err error) {
	defer e.observe(opCredit, time.Now(), &err, slog.Int64("wallet_id", walletID))

	if err := validateWalletID(walletID, "wallet_id"); err != nil {
		return Transaction{}, err
	}
	if err := ValidateAmount(amount, currencyCode); err != nil {
		return Transaction{}, err
	}

	return e.atomic(ctx, func(tx Tx) (Transaction, error) {
		locked, err := lockWallets(ctx, tx, currencyCode, walletID)
		if err != nil {
			return Transaction{}, err
		}
		w := locked.get(walletID)
		w.Balance = w.Balance.Add(amount)

		return e.post(ctx, tx, Transaction{
			WalletID:     w.ID,
			Amount:       amount,
			CurrencyCode: currencyCode,
			Type:         TypeCredit,
		}, locked)
	})
}

// Debit removes amount from the wallet, failing with ErrInsufficientFunds rather
// than overdrawing it.
func (e *Engine) Debit(ctx context.Context, walletID int64, currencyCode string, amount decimal.Decimal) (res Transaction, err error) {
	defer e.observe(opDebit, time.Now(), &err, slog.Int64("wallet_id", walletID))

	if err := validateWalletID(walletID, "wallet_id"); err != nil {
		return Transaction{}, err
	}
	if err := ValidateAmount(amount, currencyCode); err != nil {
		return Transaction{}, err
	}

	return e.atomic(ctx, func(tx Tx) (Transaction, error) {
		locked, err := lockWallets(ctx, tx, currencyCode, walletID)
		if err != nil {
			return Transaction{}, err
		}
		w := locked.get(walletID)
		if err := withdraw(w, amount); err != nil {
			return Transaction{}, err
		}

		return e.post(ctx, tx, Transaction{
			WalletID:     w.ID,
			Amount:       amount,
			CurrencyCode: currencyCode,
			Type:         TypeDebit,
		}, locked)
	})
}

// Transfer moves amount from sourceID to targetID. Both wallets must hold
// currencyCode. A single TRANSFER record is attached to the source wallet and
// names the target as its counterparty.
func (e *Engine) Transfer(ctx context.Context, sourceID, targetID int64, currencyCode string, amount decimal.Decimal) (res Transaction, err error) {
	defer e.observe(opTransfer, time.Now(), &err, slog.Int64("source_wallet_id", sourceID), slog.Int64("target_wallet_id", targetID))

	if err := validateWalletID(sourceID, "source_wallet_id"); err != nil {
		return Transaction{}, err
	}
	if err := validateWalletID(targetID, "target_wallet_id"); err != nil {
		return Transaction{}, err
	}
	if sourceID == targetID {
		return Transaction{}, fmt.Errorf("%w: source and target wallet are both %d", ErrInvalidInput, sourceID)
	}
	if err := ValidateAmount(amount, currencyCode); err != nil {
		return Transaction{}, err
	}

	return e.atomic(ctx, func(tx Tx) (Transaction, error) {
		locked, err := lockWallets(ctx, tx, currencyCode, sourceID, targetID)
		if err != nil {
			return Transaction{}, err
		}
		source, target := locked.get(sourceID), locked.get(targetID)
		if err := withdraw(source, amount); err != nil {
			return Transaction{}, err
		}
		target.Balance = target.Balance.Add(amount)

		return e.post(ctx, tx, Transaction{
			WalletID:             source.ID,
			CounterpartyWalletID: int64Ptr(target.ID),
			Amount:               amount,
			CurrencyCode:         currencyCode,
			Type:                 TypeTransfer,
		}, locked)
	})
}

// Reverse undoes the balance effect of a completed transaction exactly once and
// records a REVERSE transaction pointing back at it. Reversing a transfer restores
// both the source and the target wallet.
func (e *Engine) Reverse(ctx context.Context, referenceID string) (res Transaction, err error) {
	referenceID = strings.TrimSpace(referenceID)
	defer e.observe(opReverse, time.Now(), &err, slog.String("reference_id", referenceID))

	if referenceID == "" {
		return Transaction{}, fmt.Errorf("%w: reference id is required", ErrInvalidInput)
	}

	return e.atomic(ctx, func(tx Tx) (Transaction, error) {
		original, err := tx.TransactionForUpdate(ctx, referenceID)
		if err != nil {
			return Transaction{}, err
		}
		if err := original.Reversible(); err != nil {
			return Transaction{}, err
		}

		ids := []int64{original.WalletID}
		if original.Type == TypeTransfer {
			if original.CounterpartyWalletID == nil {
				return Transaction{}, fmt.Errorf("transfer %s has no counterparty wallet", original.ReferenceID)
			}
			ids = append(ids, *original.CounterpartyWalletID)
		}
		locked, err := lockWallets(ctx, tx, original.CurrencyCode, ids...)
		if err != nil {
			return Transaction{}, err
		}

		owner := locked.get(original.WalletID)
		switch original.Type {
		case TypeCredit:
			if err := withdraw(owner, original.Amount); err != nil {
				return Transaction{}, err
			}
		case TypeDebit:
			owner.Balance = owner.Balance.Add(original.Amount)
		case TypeTransfer:
			if err := withdraw(locked.get(*original.CounterpartyWalletID), original.Amount); err != nil {
				return Transaction{}, err
			}
			owner.Balance = owner.Balance.Add(original.Amount)
		default:
			return Transaction{}, fmt.Errorf("transaction %s has unknown type %q", original.ReferenceID, original.Type)
		}

		original.Status = StatusReversed
		if err := tx.SaveTransaction(ctx, &original); err != nil {
			return Transaction{}, err
		}

		return e.post(ctx, tx, Transaction{
			WalletID:             original.WalletID,
			CounterpartyWalletID: original.CounterpartyWalletID,
			ReversalOf:           int64Ptr(original.ID),
			Amount:               original.Amount,
			CurrencyCode:         original.CurrencyCode,
			Type:                 TypeReverse,
		}, locked)
	})
}

// Transaction looks up a transaction by its reference id.
func (e *Engine) Transaction(ctx context.Context, referenceID string) (Transaction, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return Transaction{}, fmt.Errorf("%w: reference id is required", ErrInvalidInput)
	}
	return e.store.FindTransaction(ctx, referenceID)
}

// History lists the most recent transactions touching the wallet, newest first.
func (e *Engine) History(ctx context.Context, walletID int64, limit int) ([]Transaction, error) {
	if err := validateWalletID(walletID, "wallet_id"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return e.store.ListTransactions(ctx, walletID, limit)
}

func (e *Engine) atomic(ctx context.Context, fn func(tx Tx) (Transaction, error)) (Transaction, error) {
	var out Transaction
	err := e.store.RunAtomic(ctx, func(tx Tx) error {
		res, err := fn(tx)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// post persists the mutated wallets and inserts t as a new completed transaction.
func (e *Engine) post(ctx context.Context, tx Tx, t Transaction, locked lockedWallets) (Transaction, error) {
	now := e.now()
	for _, w := range locked {
		if err := w.Validate(); err != nil {
			return Transaction{}, err
		}
		if w.Balance.GreaterThanOrEqual(MaxAmount) {
			return Transaction{}, fmt.Errorf("%w: wallet %d balance would exceed %s", ErrInvalidInput, w.ID, MaxAmount)
		}
		w.UpdatedAt = now
		if err := tx.SaveWallet(ctx, w); err != nil {
			return Transaction{}, err
		}
	}

	t.Status = StatusCompleted
	t.ReferenceID = e.newReference()
	t.CreatedAt = now
	if err := tx.SaveTransaction(ctx, &t); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (e *Engine) observe(op string, start time.Time, errp *error, attrs ...any) {
	elapsed := time.Since(start)
	kind := KindOf(*errp)
	e.metrics.RecordOperation(op, kind.String(), elapsed)

	attrs = append(attrs, slog.String("operation", op), slog.String("outcome", kind.String()), slog.Duration("duration", elapsed))
	switch kind {
	case KindNone:
		e.logger.Debug("ledger operation completed", attrs...)
	case KindContention:
		e.logger.Warn("ledger operation contended", append(attrs, slog.Any("error", *errp))...)
	case KindInternal:
		e.logger.Error("ledger operation failed", append(attrs, slog.Any("error", *errp))...)
	default:
		e.logger.Debug("ledger operation rejected", append(attrs, slog.Any("error", *errp))...)
	}
}

// lockedWallets holds the wallets locked by one unit of work in ascending id order.
type lockedWallets []*wallet.Wallet

func (l lockedWallets) get(id int64) *wallet.Wallet {
	for _, w := range l {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// lockWallets takes the row locks in ascending id order so that two operations
// touching the same pair of wallets can never wait on each other in a cycle.
func lockWallets(ctx context.Context, tx Tx, currencyCode string, ids ...int64) (lockedWallets, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	locked := make(lockedWallets, 0, len(ordered))
	for _, id := range ordered {
		w, err := tx.WalletForUpdate(ctx, id, currencyCode)
		if err != nil {
			return nil, err
		}
		locked = append(locked, &w)
	}
	return locked, nil
}

func withdraw(w *wallet.Wallet, amount decimal.Decimal) error {
	if !w.CanCover(amount) {
		return fmt.Errorf("%w: wallet %d holds %s %s, needs %s", ErrInsufficientFunds, w.ID, w.Balance, w.CurrencyCode, amount)
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}
