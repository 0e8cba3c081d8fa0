package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepository struct {
	mu      sync.Mutex
	nextID  int64
	wallets map[int64]Wallet
	history map[int64]bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{wallets: make(map[int64]Wallet), history: make(map[int64]bool)}
}

func (r *fakeRepository) Create(_ context.Context, w *Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.wallets {
		if existing.CustomerID == w.CustomerID && existing.CurrencyCode == w.CurrencyCode {
			return ErrExists
		}
	}
	r.nextID++
	w.ID = r.nextID
	r.wallets[w.ID] = *w
	return nil
}

func (r *fakeRepository) Get(_ context.Context, id int64) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return w, nil
}

func (r *fakeRepository) List(_ context.Context) ([]Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Wallet, 0, len(r.wallets))
	for _, w := range r.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepository) FindByCustomer(_ context.Context, customerID int64, currencyCode string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.CustomerID == customerID && w.CurrencyCode == currencyCode {
			return w, nil
		}
	}
	return Wallet{}, ErrNotFound
}

func (r *fakeRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return ErrNotFound
	}
	if !w.Balance.IsZero() || r.history[id] {
		return ErrInUse
	}
	delete(r.wallets, id)
	return nil
}

func (r *fakeRepository) setBalance(id int64, amount string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.wallets[id]
	w.Balance = decimal.RequireFromString(amount)
	r.wallets[id] = w
}

func newTestService() (*Service, *fakeRepository) {
	repo := newFakeRepository()
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestServiceCreateAndBalance(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	w, err := svc.Create(ctx, CreateInput{CustomerID: 42, CurrencyCode: "XAF"})
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.Equal(t, svc.now(), w.CreatedAt)

	fetched, err := svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), fetched.CustomerID)

	repo.setBalance(w.ID, "2500")

	balance, err := svc.Balance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, balance.WalletID)
	assert.Equal(t, "XAF", balance.CurrencyCode)
	assert.True(t, decimal.NewFromInt(2500).Equal(balance.Amount))
	assert.Equal(t, svc.now(), balance.AsOf)
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{CustomerID: 0, CurrencyCode: "USD"})
	assert.ErrorIs(t, err, ErrInvalidCustomer)

	for _, code := range []string{"", "usd", "US", "USDT", "ZZZ"} {
		_, err := svc.Create(ctx, CreateInput{CustomerID: 1, CurrencyCode: code})
		assert.ErrorIs(t, err, ErrInvalidCurrency, "code %q", code)
	}

	_, err = svc.Create(ctx, CreateInput{CustomerID: 1, CurrencyCode: "USD"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{CustomerID: 1, CurrencyCode: "USD"})
	assert.ErrorIs(t, err, ErrExists)
}

func TestServiceSearchAndDelete(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	usd, err := svc.Create(ctx, CreateInput{CustomerID: 7, CurrencyCode: "USD"})
	require.NoError(t, err)
	eur, err := svc.Create(ctx, CreateInput{CustomerID: 7, CurrencyCode: "EUR"})
	require.NoError(t, err)

	found, err := svc.Search(ctx, 7, "EUR")
	require.NoError(t, err)
	assert.Equal(t, eur.ID, found.ID)

	_, err = svc.Search(ctx, 7, "eur")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	repo.setBalance(usd.ID, "0.01")
	assert.ErrorIs(t, svc.Delete(ctx, usd.ID), ErrInUse)

	require.NoError(t, svc.Delete(ctx, eur.ID))
	_, err = svc.Get(ctx, eur.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, usd.ID, all[0].ID)
}

func TestMinorUnits(t *testing.T) {
	for code, want := range map[string]int32{"USD": 2, "JPY": 0, "BHD": 3, "XAF": 0} {
		unit, err := ValidateCurrency(code)
		require.NoError(t, err)
		assert.Equal(t, want, MinorUnits(unit), code)
	}
}

func TestWalletValidate(t *testing.T) {
	assert.NoError(t, Wallet{CurrencyCode: "USD", Balance: decimal.Zero}.Validate())
	assert.Error(t, Wallet{CurrencyCode: "USD", Balance: decimal.NewFromInt(-1)}.Validate())
	assert.True(t, Wallet{Balance: decimal.NewFromInt(5)}.CanCover(decimal.NewFromInt(5)))
	assert.False(t, Wallet{Balance: decimal.NewFromInt(5)}.CanCover(decimal.NewFromInt(6)))
}
