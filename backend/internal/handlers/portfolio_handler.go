package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// GetPositions lists the user's holdings by asset name.
func (h *Handler) GetPositions(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	holdings, err := h.store.GetHoldings(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(holdings)
}

// Deposit credits the quote asset within the configured bounds.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	req := new(DepositRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}
	if err := h.trader.DepositFor(c.Context(), userID, req.Amount); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
