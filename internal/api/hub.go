package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BundleMessage is what dashboards receive for every evaluation
type BundleMessage struct {
	AccountID string        `json:"account_id"`
	Bundle    models.Bundle `json:"bundle"`
}

// Hub fans evaluation bundles out to connected dashboards. A dashboard
// subscribes to one account; slow dashboards miss messages rather than
// stall the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *zap.Logger
}

type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	accountID string
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: map[*wsClient]struct{}{},
		logger:  util.ComponentLogger("ws-hub"),
	}
}

// Broadcast sends bundle to every dashboard subscribed to accountID
func (h *Hub) Broadcast(accountID string, bundle models.Bundle) {
	data, err := json.Marshal(BundleMessage{AccountID: accountID, Bundle: bundle})
	if err != nil {
		h.logger.Error("Failed to marshal bundle", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.accountID != accountID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("WebSocket buffer full, dropping bundle", zap.String("account_id", accountID))
		}
	}
}

// ClientCount returns the number of connected dashboards
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every dashboard
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// serve upgrades the request and streams bundles of accountID to it
func (h *Hub) serve(c *gin.Context, accountID string, initial *models.Bundle) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		accountID: accountID,
	}

	if initial != nil {
		if data, err := json.Marshal(BundleMessage{AccountID: accountID, Bundle: *initial}); err == nil {
			client.send <- data
		}
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump only services control frames; dashboards do not send data
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket closed", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
