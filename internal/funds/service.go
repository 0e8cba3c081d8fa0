package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/funds/internal/ledger"
	"github.com/congo-pay/funds/internal/logging"
	"github.com/congo-pay/funds/internal/notification"
	"github.com/congo-pay/funds/internal/wallet"
)

// Ledger is the subset of the ledger engine the gateway drives.
type Ledger interface {
	Credit(ctx context.Context, walletID int64, currencyCode string, amount decimal.Decimal) (ledger.Transaction, error)
	Debit(ctx context.Context, walletID int64, currencyCode string, amount decimal.Decimal) (ledger.Transaction, error)
	Transfer(ctx context.Context, sourceID, targetID int64, currencyCode string, amount decimal.Decimal) (ledger.Transaction, error)
	Reverse(ctx context.Context, referenceID string) (ledger.Transaction, error)
	Transaction(ctx context.Context, referenceID string) (ledger.Transaction, error)
	History(ctx context.Context, walletID int64, limit int) ([]ledger.Transaction, error)
}

// WalletLookup resolves wallet owners for notifications and history checks.
type WalletLookup interface {
	Get(ctx context.Context, id int64) (wallet.Wallet, error)
}

// Service fronts the ledger engine for the HTTP gateway and notifies wallet owners
// of completed transfers and reversals.
type Service struct {
	ledger   Ledger
	wallets  WalletLookup
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a funds service. A nil notifier disables notifications.
func NewService(l Ledger, wallets WalletLookup, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ledger: l, wallets: wallets, notifier: notifier, logger: logger}
}

// MovementInput carries a single-wallet credit or debit.
type MovementInput struct {
	WalletID     int64
	CurrencyCode string
	Amount       decimal.Decimal
}

// TransferInput carries a wallet to wallet transfer.
type TransferInput struct {
	SourceWalletID int64
	TargetWalletID int64
	CurrencyCode   string
	Amount         decimal.Decimal
}

func (s *Service) Credit(ctx context.Context, in MovementInput) (ledger.Transaction, error) {
	return s.ledger.Credit(ctx, in.WalletID, in.CurrencyCode, in.Amount)
}

func (s *Service) Debit(ctx context.Context, in MovementInput) (ledger.Transaction, error) {
	return s.ledger.Debit(ctx, in.WalletID, in.CurrencyCode, in.Amount)
}

// Transfer moves funds and tells both owners about it.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (ledger.Transaction, error) {
	t, err := s.ledger.Transfer(ctx, in.SourceWalletID, in.TargetWalletID, in.CurrencyCode, in.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.notify(ctx, in.SourceWalletID, notification.KindTransferSent,
		fmt.Sprintf("sent %s %s to wallet %d (ref %s)", t.Amount, t.CurrencyCode, in.TargetWalletID, t.ReferenceID))
	s.notify(ctx, in.TargetWalletID, notification.KindTransferReceived,
		fmt.Sprintf("received %s %s from wallet %d (ref %s)", t.Amount, t.CurrencyCode, in.SourceWalletID, t.ReferenceID))
	return t, nil
}

// Reverse undoes a transaction and tells every affected owner.
func (s *Service) Reverse(ctx context.Context, referenceID string) (ledger.Transaction, error) {
	t, err := s.ledger.Reverse(ctx, referenceID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	body := fmt.Sprintf("transaction %s reversed: %s %s (ref %s)", referenceID, t.Amount, t.CurrencyCode, t.ReferenceID)
	s.notify(ctx, t.WalletID, notification.KindTransactionReversed, body)
	if t.CounterpartyWalletID != nil {
		s.notify(ctx, *t.CounterpartyWalletID, notification.KindTransactionReversed, body)
	}
	return t, nil
}

func (s *Service) Transaction(ctx context.Context, referenceID string) (ledger.Transaction, error) {
	return s.ledger.Transaction(ctx, referenceID)
}

// History lists a wallet's transactions, failing with ledger.ErrNotFound for an
// unknown wallet rather than returning an empty page.
func (s *Service) History(ctx context.Context, walletID int64, limit int) ([]ledger.Transaction, error) {
	if walletID > 0 {
		if _, err := s.wallets.Get(ctx, walletID); err != nil {
			if errors.Is(err, wallet.ErrNotFound) {
				return nil, fmt.Errorf("%w: %w", ledger.ErrNotFound, err)
			}
			return nil, err
		}
	}
	return s.ledger.History(ctx, walletID, limit)
}

// notify is best effort: the movement is already committed, so failures are only logged.
func (s *Service) notify(ctx context.Context, walletID int64, kind, body string) {
	if s.notifier == nil {
		return
	}
	attrs := []any{slog.String("kind", kind), slog.Int64("wallet_id", walletID)}

	w, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		s.logger.Warn("notification recipient lookup failed", append(attrs, slog.Any("error", err))...)
		return
	}
	msg := notification.Message{
		Kind:        kind,
		Destination: notification.CustomerDestination(w.CustomerID),
		Body:        body,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification delivery failed", append(attrs, slog.Any("error", err))...)
	}
}
