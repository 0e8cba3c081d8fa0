package ledger

import (
	"context"

	"github.com/congo-pay/funds/internal/wallet"
)

// Store is the persistence contract the engine runs its units of work against.
type Store interface {
	// RunAtomic executes fn so that every Tx call inside it takes effect together or
	// not at all. Locks taken through the Tx are held until RunAtomic returns.
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error

	// FindTransaction returns the transaction with the given reference without locking it.
	FindTransaction(ctx context.Context, referenceID string) (Transaction, error)

	// ListTransactions returns the newest transactions attached to, or transferring
	// into, the wallet.
	ListTransactions(ctx context.Context, walletID int64, limit int) ([]Transaction, error)
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	// WalletForUpdate returns the wallet with an exclusive lock held until the unit of
	// work ends. It fails with ErrNotFound if no wallet has that id and currency.
	WalletForUpdate(ctx context.Context, id int64, currencyCode string) (wallet.Wallet, error)

	// TransactionForUpdate returns the transaction with an exclusive lock on it.
	TransactionForUpdate(ctx context.Context, referenceID string) (Transaction, error)

	// SaveWallet writes the balance back, failing with ErrContention when the stored
	// version moved. On success w.Version is advanced.
	SaveWallet(ctx context.Context, w *wallet.Wallet) error

	// SaveTransaction inserts t when t.ID is zero, assigning the ID, and otherwise
	// persists its status.
	SaveTransaction(ctx context.Context, t *Transaction) error
}
