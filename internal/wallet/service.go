package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Service manages the wallet lifecycle outside of funds movement.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	CustomerID   int64
	CurrencyCode string
}

// Create provisions an empty wallet for the customer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if input.CustomerID <= 0 {
		return Wallet{}, fmt.Errorf("%w: %d", ErrInvalidCustomer, input.CustomerID)
	}
	if _, err := ValidateCurrency(input.CurrencyCode); err != nil {
		return Wallet{}, err
	}

	now := s.now()
	wallet := Wallet{
		CustomerID:   input.CustomerID,
		CurrencyCode: input.CurrencyCode,
		Balance:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, &wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// Get retrieves a wallet.
func (s *Service) Get(ctx context.Context, id int64) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// List returns all wallets.
func (s *Service) List(ctx context.Context) ([]Wallet, error) {
	return s.repo.List(ctx)
}

// Search finds the wallet a customer holds in a currency.
func (s *Service) Search(ctx context.Context, customerID int64, currencyCode string) (Wallet, error) {
	if _, err := ValidateCurrency(currencyCode); err != nil {
		return Wallet{}, err
	}
	return s.repo.FindByCustomer(ctx, customerID, currencyCode)
}

// Balance returns the current balance of the wallet.
func (s *Service) Balance(ctx context.Context, id int64) (Balance, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, CurrencyCode: w.CurrencyCode, Amount: w.Balance, AsOf: s.now()}, nil
}

// Delete removes an empty wallet without ledger history.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
