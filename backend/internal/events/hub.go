package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/models"
)

// Client is one feed subscriber. It only receives the trades of UserID. The
// hub closes Send when it drops the client.
type Client struct {
	ID     string
	UserID int64
	Send   chan []byte // Buffered channel for outbound messages
}

func NewClient(id string, userID int64) *Client {
	return &Client{ID: id, UserID: userID, Send: make(chan []byte, 256)}
}

type feedMessage struct {
	userID  int64
	payload []byte
}

// Hub manages feed subscribers and routes each trade to its owner's
// connections. Only the Run goroutine touches the client set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan feedMessage
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan feedMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.Register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug("client registered", zap.String("client", client.ID), zap.Int64("user_id", client.UserID))

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("client unregistered", zap.String("client", client.ID))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if client.UserID != message.userID {
					continue
				}
				select {
				case client.Send <- message.payload:
				default:
					// Client's send buffer is full, drop it
					h.logger.Warn("client send buffer full, dropping", zap.String("client", client.ID))
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.count.Store(int64(len(h.clients)))
}

// Subscribe registers client. It reports false once the hub has stopped.
func (h *Hub) Subscribe(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unsubscribe(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// PublishTrade queues the trade for its owner's subscribers. It never blocks on slow subscribers.
func (h *Hub) PublishTrade(ctx context.Context, trade *models.Trade) error {
	msg, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade %d: %w", trade.ID, err)
	}
	select {
	case h.broadcast <- feedMessage{userID: trade.UserID, payload: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("trade feed backlog full, dropped trade %d", trade.ID)
	}
}
