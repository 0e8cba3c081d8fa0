package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/funds/internal/wallet"
)

const transactionColumns = `id, wallet_id, counterparty_wallet_id, reversal_of, amount, currency_code, type, status, reference_id, created_at`

// PostgresStore runs ledger units of work as PostgreSQL transactions, relying on
// SELECT ... FOR UPDATE row locks.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store. A positive lockTimeout is
// applied to every unit of work with SET LOCAL lock_timeout.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// RunAtomic executes fn inside a database transaction.
func (s *PostgresStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classifyPgError(err)
		}
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return classifyPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

// FindTransaction reads a transaction by reference without locking it.
func (s *PostgresStore) FindTransaction(ctx context.Context, referenceID string) (Transaction, error) {
	if _, err := uuid.Parse(referenceID); err != nil {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, referenceID)
	}
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference_id = $1`, referenceID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, referenceID)
	}
	return t, err
}

// ListTransactions returns the newest transactions touching walletID.
func (s *PostgresStore) ListTransactions(ctx context.Context, walletID int64, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE wallet_id = $1 OR counterparty_wallet_id = $1
        ORDER BY id DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type postgresTx struct {
	tx pgx.Tx
}

func (p *postgresTx) WalletForUpdate(ctx context.Context, id int64, currencyCode string) (wallet.Wallet, error) {
	row := p.tx.QueryRow(ctx, `SELECT `+wallet.Columns()+` FROM wallets
        WHERE id = $1 AND currency_code = $2 FOR UPDATE`, id, currencyCode)
	w, err := wallet.ScanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Wallet{}, fmt.Errorf("%w: wallet %d with currency %s", ErrNotFound, id, currencyCode)
	}
	return w, err
}

func (p *postgresTx) TransactionForUpdate(ctx context.Context, referenceID string) (Transaction, error) {
	if _, err := uuid.Parse(referenceID); err != nil {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, referenceID)
	}
	row := p.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE reference_id = $1 FOR UPDATE`, referenceID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, referenceID)
	}
	return t, err
}

func (p *postgresTx) SaveWallet(ctx context.Context, w *wallet.Wallet) error {
	tag, err := p.tx.Exec(ctx, `UPDATE wallets SET balance = $1, version = version + 1, updated_at = $2
        WHERE id = $3 AND version = $4`, w.Balance, w.UpdatedAt.UTC(), w.ID, w.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %d changed concurrently", ErrContention, w.ID)
	}
	w.Version++
	return nil
}

func (p *postgresTx) SaveTransaction(ctx context.Context, t *Transaction) error {
	if t.ID != 0 {
		_, err := p.tx.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, string(t.Status), t.ID)
		return err
	}

	row := p.tx.QueryRow(ctx, `INSERT INTO transactions
        (wallet_id, counterparty_wallet_id, reversal_of, amount, currency_code, type, status, reference_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		t.WalletID, t.CounterpartyWalletID, t.ReversalOf, t.Amount, t.CurrencyCode,
		string(t.Type), string(t.Status), t.ReferenceID, t.CreatedAt.UTC())
	return row.Scan(&t.ID)
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var txType, status string
	if err := row.Scan(&t.ID, &t.WalletID, &t.CounterpartyWalletID, &t.ReversalOf, &t.Amount,
		&t.CurrencyCode, &txType, &status, &t.ReferenceID, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Type = Type(txType)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// classifyPgError maps driver failures onto the ledger taxonomy. Errors that are
// already classified pass through untouched.
func classifyPgError(err error) error {
	if err == nil || KindOf(err) != KindInternal {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrContention, pgErr.Message)
		case "23505":
			if pgErr.ConstraintName == "transactions_reversal_of_key" {
				return fmt.Errorf("%w: %s", ErrAlreadyReversed, pgErr.Detail)
			}
		case "22003":
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Message)
		case "23514":
			if pgErr.ConstraintName == "wallets_balance_check" {
				return fmt.Errorf("%w: %s", ErrInsufficientFunds, pgErr.Message)
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrContention, err)
	}
	return err
}
