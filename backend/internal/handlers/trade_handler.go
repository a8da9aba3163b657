package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/user/vitrader/backend/internal/engine"
)

// CreateTradeRequest is {"action":"buy","name":"bitcoin","amount":"0.5"}.
type CreateTradeRequest struct {
	Action string          `json:"action"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) GetTrades(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	trades, err := h.store.GetUserTrades(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(trades)
}

// CreateTrade executes a market trade at the oracle price.
func (h *Handler) CreateTrade(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	req := new(CreateTradeRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}
	action, err := engine.ParseAction(req.Action)
	if err != nil {
		return h.fail(c, err)
	}

	trade, err := h.trader.ExecuteTradeFor(c.Context(), userID, action, req.Name, req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(trade)
}
