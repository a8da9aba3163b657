package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/accounts"
	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/auth"
	"github.com/user/vitrader/backend/internal/database"
	"github.com/user/vitrader/backend/internal/engine"
	"github.com/user/vitrader/backend/internal/events"
	"github.com/user/vitrader/backend/internal/middleware"
	"github.com/user/vitrader/backend/internal/models"
	"github.com/user/vitrader/backend/internal/oracle"
)

type Accounts interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
	ActivateWithCredentials(ctx context.Context, credentials string) (int64, error)
	Profile(ctx context.Context, userID int64) (*models.User, error)
	Rename(ctx context.Context, userID int64, username string) error
	Delete(ctx context.Context, userID int64) error
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// Trader is keyed by user id: token claims carry a username that goes stale on rename.
type Trader interface {
	ExecuteTradeFor(ctx context.Context, userID int64, action engine.Action, assetName string, quantity decimal.Decimal) (*models.Trade, error)
	DepositFor(ctx context.Context, userID int64, amount decimal.Decimal) error
}

// Store is the read side plus asset administration.
type Store interface {
	GetAssets(ctx context.Context) ([]*models.Asset, error)
	GetHoldings(ctx context.Context, userID int64) ([]*models.Holding, error)
	GetUserTrades(ctx context.Context, userID int64) ([]*models.TradeView, error)
	CreateAsset(ctx context.Context, ticker, name string) (*models.Asset, error)
	DeleteAsset(ctx context.Context, ticker, name string) error
}

type Handler struct {
	accounts Accounts
	trader   Trader
	store    Store
	// prices answers quote lookups only; trades price through the engine's own source.
	prices   oracle.PriceSource
	tokens   *auth.Tokens
	hub      *events.Hub
	logger   *zap.Logger
}

func New(accts Accounts, trader Trader, store Store, prices oracle.PriceSource, tokens *auth.Tokens, hub *events.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		accounts: accts,
		trader:   trader,
		store:    store,
		prices:   prices,
		tokens:   tokens,
		hub:      hub,
		logger:   logger.Named("http"),
	}
}

// SetupRoutes mounts every route on app.
func (h *Handler) SetupRoutes(app *fiber.App) {
	// --- WebSocket Routes ---
	// Browsers cannot set headers on an upgrade, so ?token= is accepted here.
	wsGroup := app.Group("/ws", func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) == "" {
			if token := c.Query("token"); token != "" {
				c.Request().Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
			}
		}
		return c.Next()
	}, middleware.Protected(h.tokens))
	wsGroup.Use("/", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	wsGroup.Get("/trades", websocket.New(h.TradeFeed))

	// Activation link mailed on registration (Public)
	app.Get("/validate/:credentials", h.Validate)

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ViTrader API is healthy!")
	})
	api.Post("/auth/token", h.Token)
	api.Get("/assets", h.GetAssets)
	api.Get("/prices/:name", h.GetPrice)

	// --- Protected Routes ---
	protected := api.Group("", middleware.Protected(h.tokens))
	protected.Get("/me", h.Me)
	protected.Post("/me", h.RenameMe)
	protected.Delete("/me", h.DeleteMe)
	protected.Get("/positions", h.GetPositions)
	protected.Put("/positions", h.Deposit)
	protected.Get("/trades", h.GetTrades)
	protected.Put("/trades", h.CreateTrade)

	admin := protected.Group("/assets", middleware.AdminOnly(h.accounts.IsAdmin))
	admin.Put("", h.CreateAsset)
	admin.Delete("", h.DeleteAsset)
}

func currentUser(c *fiber.Ctx) (int64, string, bool) {
	userID, ok := c.Locals("userID").(int64)
	username, ok2 := c.Locals("username").(string)
	return userID, username, ok && ok2
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse request body"})
}

// fail maps an error onto a status. Unexpected errors are logged and hidden.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInsufficientBalance):
		status = fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, accounts.ErrWrongInfo):
		status = fiber.StatusUnauthorized
	case errors.Is(err, accounts.ErrInactiveAccount):
		status = fiber.StatusForbidden
	case errors.Is(err, accounts.ErrUsernameExists), errors.Is(err, accounts.ErrEmailExists), errors.Is(err, database.ErrDuplicate):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
