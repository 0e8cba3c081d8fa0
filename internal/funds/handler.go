package funds

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/funds/internal/ledger"
	"github.com/congo-pay/funds/internal/middleware"
)

// Handler exposes the funds movement endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a funds handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type movementRequest struct {
	WalletID     int64           `json:"wallet_id"`
	CurrencyCode string          `json:"currency_code"`
	Amount       decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	SourceWalletID int64           `json:"source_wallet_id"`
	TargetWalletID int64           `json:"target_wallet_id"`
	CurrencyCode   string          `json:"currency_code"`
	Amount         decimal.Decimal `json:"amount"`
}

// TransactionResponse is the JSON rendering of a ledger transaction. Amounts are
// rendered as decimal strings.
type TransactionResponse struct {
	ID                   int64     `json:"id"`
	ReferenceID          string    `json:"reference_id"`
	WalletID             int64     `json:"wallet_id"`
	CounterpartyWalletID *int64    `json:"counterparty_wallet_id,omitempty"`
	ReversalOf           *int64    `json:"reversal_of,omitempty"`
	Amount               string    `json:"amount"`
	CurrencyCode         string    `json:"currency_code"`
	Type                 string    `json:"type"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
}

// ToResponse renders a transaction for the API.
func ToResponse(t ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                   t.ID,
		ReferenceID:          t.ReferenceID,
		WalletID:             t.WalletID,
		CounterpartyWalletID: t.CounterpartyWalletID,
		ReversalOf:           t.ReversalOf,
		Amount:               t.Amount.String(),
		CurrencyCode:         t.CurrencyCode,
		Type:                 string(t.Type),
		Status:               string(t.Status),
		CreatedAt:            t.CreatedAt,
	}
}

// Credit adds funds to a wallet.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	t, err := h.service.Credit(c.UserContext(), MovementInput{WalletID: req.WalletID, CurrencyCode: req.CurrencyCode, Amount: req.Amount})
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(t))
}

// Debit withdraws funds from a wallet.
func (h *Handler) Debit(c *fiber.Ctx) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	t, err := h.service.Debit(c.UserContext(), MovementInput{WalletID: req.WalletID, CurrencyCode: req.CurrencyCode, Amount: req.Amount})
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(t))
}

// Transfer moves funds between two wallets of the same currency.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	t, err := h.service.Transfer(c.UserContext(), TransferInput{
		SourceWalletID: req.SourceWalletID,
		TargetWalletID: req.TargetWalletID,
		CurrencyCode:   req.CurrencyCode,
		Amount:         req.Amount,
	})
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(t))
}

// Reverse undoes the transaction named in the path.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	t, err := h.service.Reverse(c.UserContext(), c.Params("referenceId"))
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(t))
}

// Transaction returns a single transaction by reference.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	t, err := h.service.Transaction(c.UserContext(), c.Params("referenceId"))
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.JSON(ToResponse(t))
}

// History lists the newest transactions of a wallet.
func (h *Handler) History(c *fiber.Ctx) error {
	walletID, err := strconv.ParseInt(c.Params("walletId"), 10, 64)
	if err != nil || walletID <= 0 {
		return middleware.WriteError(c, http.StatusBadRequest, ledger.KindInvalidInput.String(), "wallet id must be a positive integer")
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return middleware.WriteError(c, http.StatusBadRequest, ledger.KindInvalidInput.String(), "limit must be a non-negative integer")
		}
	}

	txns, err := h.service.History(c.UserContext(), walletID, limit)
	if err != nil {
		return writeLedgerError(c, err)
	}
	out := make([]TransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, ToResponse(t))
	}
	return c.JSON(fiber.Map{"wallet_id": walletID, "transactions": out})
}

func badRequest(c *fiber.Ctx, err error) error {
	return middleware.WriteError(c, http.StatusBadRequest, ledger.KindInvalidInput.String(), "invalid request body: "+err.Error())
}

// writeLedgerError renders a ledger error, hiding the message of unclassified failures.
func writeLedgerError(c *fiber.Ctx, err error) error {
	kind := ledger.KindOf(err)
	message := err.Error()

	var status int
	switch kind {
	case ledger.KindInvalidInput:
		status = http.StatusBadRequest
	case ledger.KindNotFound:
		status = http.StatusNotFound
	case ledger.KindAlreadyReversed:
		status = http.StatusConflict
	case ledger.KindInsufficientFunds:
		status = http.StatusUnprocessableEntity
	case ledger.KindContention:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
		message = "internal error"
	}
	if ledger.Retryable(err) {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return middleware.WriteError(c, status, kind.String(), message)
}
