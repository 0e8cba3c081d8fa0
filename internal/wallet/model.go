package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrNotFound is returned when no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")
	// ErrExists indicates the customer already holds a wallet in that currency.
	ErrExists = errors.New("wallet already exists")
	// ErrInUse indicates the wallet still carries a balance or ledger history.
	ErrInUse = errors.New("wallet in use")
	// ErrInvalidCurrency is returned for codes that are not ISO 4217 currencies.
	ErrInvalidCurrency = errors.New("invalid currency code")
	// ErrInvalidCustomer is returned when the owning customer id is missing.
	ErrInvalidCustomer = errors.New("customer_id must be positive")
)

// Wallet is a single-currency balance held by a customer.
type Wallet struct {
	ID           int64
	CustomerID   int64
	CurrencyCode string
	Balance      decimal.Decimal
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID     int64
	CurrencyCode string
	Amount       decimal.Decimal
	AsOf         time.Time
}

// CanCover reports whether the wallet can give up amount without going negative.
func (w Wallet) CanCover(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Validate checks the invariants every persisted wallet must satisfy.
func (w Wallet) Validate() error {
	if _, err := ValidateCurrency(w.CurrencyCode); err != nil {
		return err
	}
	if w.Balance.IsNegative() {
		return fmt.Errorf("wallet %d: negative balance %s", w.ID, w.Balance)
	}
	return nil
}

// ValidateCurrency parses a three letter upper-case ISO 4217 code.
func ValidateCurrency(code string) (currency.Unit, error) {
	if len(code) != 3 {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return currency.Unit{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit, nil
}

// MinorUnits returns the number of fractional digits used by the currency.
func MinorUnits(unit currency.Unit) int32 {
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}
