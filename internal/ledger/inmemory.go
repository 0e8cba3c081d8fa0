package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/congo-pay/funds/internal/wallet"
)

// MemoryStore is a concurrency-safe in-process Store. Wallet rows and transaction
// records are locked individually for the lifetime of a unit of work and writes
// are buffered until it commits. It also implements wallet.Repository so that a
// single instance backs the whole service in development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[int64]wallet.Wallet
	transactions map[int64]Transaction
	byReference  map[string]int64
	reversals    map[int64]int64
	nextWalletID int64
	nextTxID     int64

	locks       *keyedLocks
	lockTimeout time.Duration
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLockTimeout bounds how long a unit of work waits for a single row lock
// before failing with ErrContention. Zero waits until the context is done.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.lockTimeout = d }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		wallets:      make(map[int64]wallet.Wallet),
		transactions: make(map[int64]Transaction),
		byReference:  make(map[string]int64),
		reversals:    make(map[int64]int64),
		locks:        newKeyedLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunAtomic runs fn as one unit of work.
func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		store:   s,
		held:    make(map[string]func()),
		wallets: make(map[int64]pendingWallet),
		txns:    make(map[int64]Transaction),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// FindTransaction returns a committed transaction by reference.
func (s *MemoryStore) FindTransaction(_ context.Context, referenceID string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byReference[referenceID]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, referenceID)
	}
	return cloneTransaction(s.transactions[id]), nil
}

// ListTransactions returns up to limit transactions touching walletID, newest first.
func (s *MemoryStore) ListTransactions(_ context.Context, walletID int64, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transaction
	for _, t := range s.transactions {
		if t.WalletID == walletID || (t.CounterpartyWalletID != nil && *t.CounterpartyWalletID == walletID) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range tx.wallets {
		current, ok := s.wallets[id]
		if !ok {
			return fmt.Errorf("%w: wallet %d", ErrNotFound, id)
		}
		if current.Version != p.expectedVersion {
			return fmt.Errorf("%w: wallet %d changed concurrently", ErrContention, id)
		}
	}
	for id, t := range tx.txns {
		if owner, ok := s.byReference[t.ReferenceID]; ok && owner != id {
			return fmt.Errorf("duplicate transaction reference %s", t.ReferenceID)
		}
		if t.ReversalOf != nil {
			if other, ok := s.reversals[*t.ReversalOf]; ok && other != id {
				return fmt.Errorf("%w: transaction %d", ErrAlreadyReversed, *t.ReversalOf)
			}
		}
	}

	for id, p := range tx.wallets {
		s.wallets[id] = p.wallet
	}
	for id, t := range tx.txns {
		s.transactions[id] = t
		s.byReference[t.ReferenceID] = id
		if t.ReversalOf != nil {
			s.reversals[*t.ReversalOf] = id
		}
	}
	return nil
}

func (s *MemoryStore) acquire(ctx context.Context, key string) (func(), error) {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %w", ErrContention, key, err)
	}
	return release, nil
}

type pendingWallet struct {
	wallet          wallet.Wallet
	expectedVersion int64
}

type memoryTx struct {
	store   *MemoryStore
	held    map[string]func()
	wallets map[int64]pendingWallet
	txns    map[int64]Transaction
}

func (tx *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	release, err := tx.store.acquire(ctx, key)
	if err != nil {
		return err
	}
	tx.held[key] = release
	return nil
}

func (tx *memoryTx) release() {
	for _, release := range tx.held {
		release()
	}
}

func (tx *memoryTx) WalletForUpdate(ctx context.Context, id int64, currencyCode string) (wallet.Wallet, error) {
	if err := tx.lock(ctx, walletLockKey(id)); err != nil {
		return wallet.Wallet{}, err
	}

	w, ok := wallet.Wallet{}, false
	if p, pending := tx.wallets[id]; pending {
		w, ok = p.wallet, true
	} else {
		tx.store.mu.RLock()
		w, ok = tx.store.wallets[id]
		tx.store.mu.RUnlock()
	}
	if !ok || w.CurrencyCode != currencyCode {
		return wallet.Wallet{}, fmt.Errorf("%w: wallet %d with currency %s", ErrNotFound, id, currencyCode)
	}
	return w, nil
}

func (tx *memoryTx) TransactionForUpdate(ctx context.Context, referenceID string) (Transaction, error) {
	tx.store.mu.RLock()
	id, ok := tx.store.byReference[referenceID]
	tx.store.mu.RUnlock()
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, referenceID)
	}

	if err := tx.lock(ctx, transactionLockKey(id)); err != nil {
		return Transaction{}, err
	}

	if t, pending := tx.txns[id]; pending {
		return cloneTransaction(t), nil
	}
	tx.store.mu.RLock()
	t := tx.store.transactions[id]
	tx.store.mu.RUnlock()
	return cloneTransaction(t), nil
}

func (tx *memoryTx) SaveWallet(_ context.Context, w *wallet.Wallet) error {
	if _, ok := tx.held[walletLockKey(w.ID)]; !ok {
		return fmt.Errorf("wallet %d saved without holding its lock", w.ID)
	}

	expected := w.Version
	if p, pending := tx.wallets[w.ID]; pending {
		if p.wallet.Version != expected {
			return fmt.Errorf("%w: wallet %d changed concurrently", ErrContention, w.ID)
		}
		expected = p.expectedVersion
	} else {
		tx.store.mu.RLock()
		current, ok := tx.store.wallets[w.ID]
		tx.store.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: wallet %d", ErrNotFound, w.ID)
		}
		if current.Version != expected {
			return fmt.Errorf("%w: wallet %d changed concurrently", ErrContention, w.ID)
		}
	}

	w.Version++
	tx.wallets[w.ID] = pendingWallet{wallet: *w, expectedVersion: expected}
	return nil
}

func (tx *memoryTx) SaveTransaction(_ context.Context, t *Transaction) error {
	if t.ID != 0 {
		if _, ok := tx.held[transactionLockKey(t.ID)]; !ok {
			return fmt.Errorf("transaction %d updated without holding its lock", t.ID)
		}
		tx.txns[t.ID] = cloneTransaction(*t)
		return nil
	}

	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: transaction amount must be positive", ErrInvalidInput)
	}
	if t.ReferenceID == "" {
		return fmt.Errorf("%w: transaction reference is required", ErrInvalidInput)
	}

	tx.store.mu.Lock()
	tx.store.nextTxID++
	t.ID = tx.store.nextTxID
	tx.store.mu.Unlock()

	tx.txns[t.ID] = cloneTransaction(*t)
	return nil
}

// Create stores a new wallet and assigns its identifier.
func (s *MemoryStore) Create(_ context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.wallets {
		if existing.CustomerID == w.CustomerID && existing.CurrencyCode == w.CurrencyCode {
			return fmt.Errorf("%w: customer %d %s", wallet.ErrExists, w.CustomerID, w.CurrencyCode)
		}
	}
	s.nextWalletID++
	w.ID = s.nextWalletID
	s.wallets[w.ID] = *w
	return nil
}

// Get returns a committed wallet.
func (s *MemoryStore) Get(_ context.Context, id int64) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return wallet.Wallet{}, fmt.Errorf("%w: %d", wallet.ErrNotFound, id)
	}
	return w, nil
}

// List returns all wallets ordered by identifier.
func (s *MemoryStore) List(_ context.Context) ([]wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wallet.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindByCustomer returns the customer's wallet in the given currency.
func (s *MemoryStore) FindByCustomer(_ context.Context, customerID int64, currencyCode string) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.CustomerID == customerID && w.CurrencyCode == currencyCode {
			return w, nil
		}
	}
	return wallet.Wallet{}, fmt.Errorf("%w: customer %d %s", wallet.ErrNotFound, customerID, currencyCode)
}

// Delete removes an empty wallet with no ledger history. It takes the wallet's row
// lock so it cannot interleave with a funds movement.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	release, err := s.acquire(ctx, walletLockKey(id))
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return fmt.Errorf("%w: %d", wallet.ErrNotFound, id)
	}
	if !w.Balance.IsZero() {
		return fmt.Errorf("%w: wallet %d balance %s", wallet.ErrInUse, id, w.Balance)
	}
	for _, t := range s.transactions {
		if t.WalletID == id || (t.CounterpartyWalletID != nil && *t.CounterpartyWalletID == id) {
			return fmt.Errorf("%w: wallet %d has transactions", wallet.ErrInUse, id)
		}
	}
	delete(s.wallets, id)
	return nil
}

func walletLockKey(id int64) string {
	return fmt.Sprintf("wallet:%d", id)
}

func transactionLockKey(id int64) string {
	return fmt.Sprintf("transaction:%d", id)
}

func cloneTransaction(t Transaction) Transaction {
	if t.CounterpartyWalletID != nil {
		t.CounterpartyWalletID = int64Ptr(*t.CounterpartyWalletID)
	}
	if t.ReversalOf != nil {
		t.ReversalOf = int64Ptr(*t.ReversalOf)
	}
	return t
}
