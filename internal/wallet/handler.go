package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	CustomerID   int64  `json:"customer_id"`
	CurrencyCode string `json:"currency_code"`
}

// Response is the JSON rendering of a wallet.
type Response struct {
	ID           int64     `json:"id"`
	CustomerID   int64     `json:"customer_id"`
	CurrencyCode string    `json:"currency_code"`
	Balance      string    `json:"balance"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToResponse renders a wallet for the API.
func ToResponse(w Wallet) Response {
	return Response{
		ID:           w.ID,
		CustomerID:   w.CustomerID,
		CurrencyCode: w.CurrencyCode,
		Balance:      w.Balance.String(),
		Version:      w.Version,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

// Create provisions a wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{CustomerID: req.CustomerID, CurrencyCode: req.CurrencyCode})
	if err != nil {
		return toFiberError(err)
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(w))
}

// Get returns a single wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := walletIDParam(c)
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return toFiberError(err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(w))
}

// List returns all wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	wallets, err := h.service.List(c.UserContext())
	if err != nil {
		return toFiberError(err)
	}
	out := make([]Response, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, ToResponse(w))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Search finds a wallet by customer and currency.
func (h *Handler) Search(c *fiber.Ctx) error {
	customerID, err := strconv.ParseInt(c.Query("customer_id"), 10, 64)
	if err != nil || customerID <= 0 {
		return fiber.NewError(http.StatusBadRequest, "customer_id must be a positive integer")
	}
	w, err := h.service.Search(c.UserContext(), customerID, c.Query("currency_code"))
	if err != nil {
		return toFiberError(err)
	}
	return c.Status(http.StatusOK).JSON(ToResponse(w))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	id, err := walletIDParam(c)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), id)
	if err != nil {
		return toFiberError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":     balance.WalletID,
		"currency_code": balance.CurrencyCode,
		"balance":       balance.Amount.String(),
		"timestamp":     balance.AsOf,
	})
}

// Delete removes an empty wallet.
func (h *Handler) Delete(c *fiber.Ctx) error {
	id, err := walletIDParam(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), id); err != nil {
		return toFiberError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func walletIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("walletId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "wallet id must be a positive integer")
	}
	return id, nil
}

func toFiberError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrExists), errors.Is(err, ErrInUse):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCurrency), errors.Is(err, ErrInvalidCustomer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
