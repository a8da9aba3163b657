package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AssetRequest identifies an asset by ticker and oracle name.
type AssetRequest struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

func (h *Handler) GetAssets(c *fiber.Ctx) error {
	assets, err := h.store.GetAssets(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(assets)
}

func parseAsset(c *fiber.Ctx) (*AssetRequest, bool) {
	req := new(AssetRequest)
	if err := c.BodyParser(req); err != nil {
		return nil, false
	}
	req.Ticker = strings.TrimSpace(req.Ticker)
	req.Name = strings.TrimSpace(req.Name)
	return req, req.Ticker != "" && req.Name != ""
}

func (h *Handler) CreateAsset(c *fiber.Ctx) error {
	req, ok := parseAsset(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Ticker and name are required"})
	}
	asset, err := h.store.CreateAsset(c.Context(), req.Ticker, req.Name)
	if err != nil {
		return h.fail(c, err)
	}
	h.logger.Info("asset added", zap.String("ticker", asset.Ticker), zap.String("name", asset.Name))
	return c.Status(fiber.StatusCreated).JSON(asset)
}

// DeleteAsset also removes every position and trade involving the asset.
func (h *Handler) DeleteAsset(c *fiber.Ctx) error {
	req, ok := parseAsset(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Ticker and name are required"})
	}
	if err := h.store.DeleteAsset(c.Context(), req.Ticker, req.Name); err != nil {
		return h.fail(c, err)
	}
	h.logger.Info("asset deleted", zap.String("ticker", req.Ticker), zap.String("name", req.Name))
	return c.SendStatus(fiber.StatusNoContent)
}
