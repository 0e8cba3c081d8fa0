package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists wallet metadata. Balances are only changed by the ledger.
type Repository interface {
	Create(ctx context.Context, wallet *Wallet) error
	Get(ctx context.Context, id int64) (Wallet, error)
	List(ctx context.Context) ([]Wallet, error)
	FindByCustomer(ctx context.Context, customerID int64, currencyCode string) (Wallet, error)
	Delete(ctx context.Context, id int64) error
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, customer_id, currency_code, balance, version, created_at, updated_at`

// Create inserts a wallet record and fills in the generated identifier.
func (r *PostgresRepository) Create(ctx context.Context, wallet *Wallet) error {
	row := r.db.QueryRow(ctx, `INSERT INTO wallets (customer_id, currency_code, balance, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		wallet.CustomerID, wallet.CurrencyCode, wallet.Balance, wallet.Version, wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	if err := row.Scan(&wallet.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: customer %d %s", ErrExists, wallet.CustomerID, wallet.CurrencyCode)
		}
		return err
	}
	return nil
}

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	w, err := ScanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return w, err
}

// List returns every wallet ordered by identifier.
func (r *PostgresRepository) List(ctx context.Context) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := ScanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// FindByCustomer looks up the wallet a customer holds in the given currency.
func (r *PostgresRepository) FindByCustomer(ctx context.Context, customerID int64, currencyCode string) (Wallet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE customer_id = $1 AND currency_code = $2`, customerID, currencyCode)
	w, err := ScanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, fmt.Errorf("%w: customer %d %s", ErrNotFound, customerID, currencyCode)
	}
	return w, err
}

// Delete removes an empty wallet that no transaction references.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := ScanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return err
	}
	if !w.Balance.IsZero() {
		return fmt.Errorf("%w: wallet %d balance %s", ErrInUse, id, w.Balance)
	}

	var referenced bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (
        SELECT 1 FROM transactions WHERE wallet_id = $1 OR counterparty_wallet_id = $1)`, id).Scan(&referenced); err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("%w: wallet %d has transactions", ErrInUse, id)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ScanWallet reads a row selected with the standard wallet column list.
func ScanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.CustomerID, &w.CurrencyCode, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

// Columns is the select list understood by ScanWallet.
func Columns() string {
	return walletColumns
}
