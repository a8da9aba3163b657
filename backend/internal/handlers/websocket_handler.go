package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/events"
)

// TradeFeed streams the authenticated user's executed trades as JSON. The
// connection lives as long as this handler runs.
func (h *Handler) TradeFeed(c *websocket.Conn) {
	userID, ok := c.Locals("userID").(int64)
	if !ok {
		_ = c.Close()
		return
	}
	client := events.NewClient(uuid.NewString(), userID)
	logger := h.logger.With(
		zap.String("client", client.ID),
		zap.Int64("user_id", userID),
		zap.String("remote", c.RemoteAddr().String()))
	if !h.hub.Subscribe(client) {
		return
	}
	logger.Debug("trade feed connected")

	written := make(chan struct{})
	go func() {
		defer close(written)
		writePump(c, client, logger)
	}()

	readPump(c, logger)
	h.hub.Unsubscribe(client)
	<-written
	logger.Debug("trade feed disconnected")
}

// writePump pumps messages from the hub to the websocket connection.
func writePump(c *websocket.Conn, client *events.Client, logger *zap.Logger) {
	// Closing unblocks readPump when the hub drops us or a write fails.
	defer c.Close()
	for message := range client.Send {
		if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Debug("write to feed client failed", zap.Error(err))
			return
		}
	}
}

// readPump discards client messages until the connection ends.
func readPump(c *websocket.Conn, logger *zap.Logger) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("feed client disconnected unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
