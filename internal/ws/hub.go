package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types sent to dashboard clients
const (
	TypeConnected      = "connected"
	TypeAnomaly        = "anomaly"
	TypeRecommendation = "recommendation"
	TypeError          = "error"
)

// ErrBroadcastFull is returned when the hub cannot keep up
var ErrBroadcastFull = errors.New("broadcast channel is full")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	plotID int64 // 0 receives every plot
}

// Message represents a WebSocket message structure
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	PlotID    int64       `json:"plot_id,omitempty"`
	Data      interface{} `json:"data"`
}

type outbound struct {
	plotID int64
	data   []byte
}

// Hub maintains active WebSocket connections and broadcasts anomaly
// events and recommendations to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins; CORS is enforced on the REST API
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Info("websocket client connected",
				zap.Int64("plot_id", client.plotID), zap.Int("clients", len(h.clients)))

			if data, err := encode(TypeConnected, 0, map[string]string{"status": "connected"}); err == nil {
				h.deliver(client, data)
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("websocket client disconnected", zap.Int("clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if msg.plotID != 0 && client.plotID != 0 && client.plotID != msg.plotID {
					continue
				}
				h.deliver(client, msg.data)
			}
		}
	}
}

// deliver queues data for a client, dropping clients that fall behind
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("websocket client too slow, disconnecting", zap.Int64("plot_id", client.plotID))
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
}

func encode(kind string, plotID int64, data interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      kind,
		Timestamp: time.Now().UTC(),
		PlotID:    plotID,
		Data:      data,
	})
}

func (h *Hub) publish(kind string, plotID int64, data interface{}) error {
	payload, err := encode(kind, plotID, data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}

	select {
	case h.broadcast <- outbound{plotID: plotID, data: payload}:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// NotifyAnomaly broadcasts a newly persisted anomaly
func (h *Hub) NotifyAnomaly(_ context.Context, ev *models.AnomalyEvent) error {
	return h.publish(TypeAnomaly, ev.PlotID, ev)
}

// NotifyRecommendation broadcasts a recommendation for an anomaly
func (h *Hub) NotifyRecommendation(_ context.Context, ev *models.AnomalyEvent, rec *models.AgentRecommendation) error {
	return h.publish(TypeRecommendation, ev.PlotID, map[string]interface{}{
		"anomaly":        ev,
		"recommendation": rec,
	})
}

// BroadcastError tells a plot's clients that processing failed; plotID 0
// reaches every client
func (h *Hub) BroadcastError(plotID int64, errorMsg string) {
	if err := h.publish(TypeError, plotID, map[string]string{"error": errorMsg}); err != nil {
		h.logger.Warn("dropping error broadcast", zap.Error(err))
	}
}

// GetConnectedClientsCount returns the number of connected clients
func (h *Hub) GetConnectedClientsCount() int {
	return int(h.count.Load())
}

// HandleWebSocket upgrades the request; ?plot_id= restricts the stream to one plot
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var plotID int64
	if raw := r.URL.Query().Get("plot_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid plot_id", http.StatusBadRequest)
			return
		}
		plotID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		plotID: plotID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains client frames so control messages are processed
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
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
