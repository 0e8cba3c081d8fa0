package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/funds/internal/funds"
	"github.com/congo-pay/funds/internal/wallet"
)

// RegisterWalletRoutes wires wallet management endpoints and the per-wallet
// transaction history.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, fh *funds.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets", h.List)
	r.Get("/wallets/search", h.Search)
	r.Get("/wallets/:walletId", h.Get)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/transactions", fh.History)
	r.Delete("/wallets/:walletId", h.Delete)
}
