package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type PriceResponse struct {
	Name string          `json:"name"`
	USD  decimal.Decimal `json:"usd"`
}

// GetPrice returns an indicative USD price. It may be up to the cache TTL
// old; trades always fetch a fresh one.
func (h *Handler) GetPrice(c *fiber.Ctx) error {
	name := c.Params("name")
	price, err := h.prices.Price(c.Context(), name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(PriceResponse{Name: name, USD: price})
}
