package handlers

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/models"
)

// LoginRequest defines the expected JSON body for login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RenameRequest struct {
	Username string `json:"username"`
}

// AuthResponse defines the JSON response for successful auth
type AuthResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	IssuedAt time.Time    `json:"issued_at"`
}

func (h *Handler) issue(c *fiber.Ctx, status int, userID int64) error {
	user, err := h.accounts.Profile(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	token, err := h.tokens.Generate(user.ID, user.Username)
	if err != nil {
		h.logger.Error("generate token", zap.String("username", user.Username), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}
	return c.Status(status).JSON(AuthResponse{Token: token, User: user, IssuedAt: time.Now()})
}

// Token exchanges the credentials of an activated account for a JWT.
func (h *Handler) Token(c *fiber.Ctx) error {
	req := new(LoginRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Username and password cannot be empty"})
	}

	userID, err := h.accounts.Authenticate(c.Context(), req.Username, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return h.issue(c, fiber.StatusOK, userID)
}

// Validate activates the account named by a mailed link.
func (h *Handler) Validate(c *fiber.Ctx) error {
	credentials, err := url.PathUnescape(c.Params("credentials"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Malformed activation link")
	}
	if _, err := h.accounts.ActivateWithCredentials(c.Context(), credentials); err != nil {
		return h.fail(c, err)
	}
	return c.SendString("Account activated, you can now log in.")
}

func (h *Handler) Me(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	user, err := h.accounts.Profile(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(user)
}

// RenameMe changes the username and returns a token carrying the new name.
func (h *Handler) RenameMe(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	req := new(RenameRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}
	if err := h.accounts.Rename(c.Context(), userID, req.Username); err != nil {
		return h.fail(c, err)
	}
	return h.issue(c, fiber.StatusOK, userID)
}

func (h *Handler) DeleteMe(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
	}
	if err := h.accounts.Delete(c.Context(), userID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
