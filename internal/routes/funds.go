package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/funds/internal/funds"
)

// RegisterFundsRoutes wires funds movement endpoints. The optional middlewares run
// in front of every state-changing route only.
func RegisterFundsRoutes(r fiber.Router, h *funds.Handler, mw ...fiber.Handler) {
	unsafe := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, mw...), handler)
	}

	g := r.Group("/funds")
	g.Post("/credit", unsafe(h.Credit)...)
	g.Post("/debit", unsafe(h.Debit)...)
	g.Post("/transfer", unsafe(h.Transfer)...)
	g.Post("/reverse/:referenceId", unsafe(h.Reverse)...)
	g.Get("/transactions/:referenceId", h.Transaction)
}
