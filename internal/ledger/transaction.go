package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/funds/internal/wallet"
)

// Type is the kind of balance movement a transaction records.
type Type string

const (
	TypeCredit   Type = "CREDIT"
	TypeDebit    Type = "DEBIT"
	TypeTransfer Type = "TRANSFER"
	TypeReverse  Type = "REVERSE"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusReversed  Status = "REVERSED"
)

// Transaction is an immutable record of one balance-affecting event. Only the
// COMPLETED -> REVERSED status transition is ever applied after creation.
type Transaction struct {
	ID       int64
	WalletID int64
	// CounterpartyWalletID is the credited wallet of a TRANSFER, and is carried over
	// to the REVERSE record that undoes it.
	CounterpartyWalletID *int64
	// ReversalOf points a REVERSE record at the transaction it undid.
	ReversalOf   *int64
	Amount       decimal.Decimal
	CurrencyCode string
	Type         Type
	Status       Status
	ReferenceID  string
	CreatedAt    time.Time
}

// Reversible reports whether a reversal may be applied to t.
func (t Transaction) Reversible() error {
	if t.Status == StatusReversed {
		return fmt.Errorf("%w: %s", ErrAlreadyReversed, t.ReferenceID)
	}
	if t.Type == TypeReverse {
		return fmt.Errorf("%w: reversal %s cannot itself be reversed", ErrInvalidInput, t.ReferenceID)
	}
	return nil
}

// maxIntegerDigits matches the NUMERIC(30,8) balance column.
const maxIntegerDigits = 22

// MaxAmount is the exclusive upper bound for amounts and balances.
var MaxAmount = decimal.New(1, maxIntegerDigits)

// ValidateAmount checks that amount is strictly positive, below MaxAmount and
// carries no more fractional digits than the currency's minor unit.
func ValidateAmount(amount decimal.Decimal, currencyCode string) error {
	unit, err := wallet.ValidateCurrency(currencyCode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	// Magnitude is judged from the digit count so that extreme exponents are
	// rejected without rescaling the coefficient.
	magnitude := int64(amount.NumDigits()) + int64(amount.Exponent())
	if magnitude > maxIntegerDigits {
		return fmt.Errorf("%w: amount must be below %s", ErrInvalidInput, MaxAmount)
	}
	scale := wallet.MinorUnits(unit)
	if magnitude <= -int64(scale) {
		return fmt.Errorf("%w: amount has more than %d decimal places for %s", ErrInvalidInput, scale, currencyCode)
	}
	if !amount.Equal(amount.Truncate(scale)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places for %s", ErrInvalidInput, amount, scale, currencyCode)
	}
	return nil
}

func validateWalletID(id int64, field string) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidInput, field)
	}
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
