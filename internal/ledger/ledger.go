package ledger

import (
	"errors"
)

var (
	// ErrNotFound is returned when the referenced wallet or transaction does not exist,
	// including a wallet that exists under a different currency.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds occurs when a posting would drive a wallet balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyReversed indicates the transaction has already been reversed.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrInvalidInput covers non-positive amounts, malformed currencies and missing fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrContention is returned when a lock could not be obtained in time or the store
	// aborted the unit of work because of a concurrent update. The whole operation may
	// be retried.
	ErrContention = errors.New("contention")
)

// Kind classifies an error returned by the engine.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindInsufficientFunds
	KindAlreadyReversed
	KindInvalidInput
	KindContention
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindAlreadyReversed:
		return "already_reversed"
	case KindInvalidInput:
		return "invalid_input"
	case KindContention:
		return "contention"
	default:
		return "internal"
	}
}

// KindOf maps err onto the ledger error taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrAlreadyReversed):
		return KindAlreadyReversed
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrContention):
		return KindContention
	default:
		return KindInternal
	}
}

// Retryable reports whether repeating the whole operation may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindContention
}
