package ledger

import (
	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that overwrites a wallet balance in the in-memory
// store without recording a transaction.
func SeedBalance(s *MemoryStore, walletID int64, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return
	}
	w.Balance = amount
	w.Version++
	s.wallets[walletID] = w
}
