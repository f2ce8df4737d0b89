package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/garyjia/invoice-approval/internal/application/dispatcher"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/domain/event"
)

// HandlerName is the dispatcher handler name of the hub
const HandlerName = "websocket-hub"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// VisibilityFunc reports whether actor may see the invoice
type VisibilityFunc func(ctx context.Context, actor *entity.Actor, invoiceID string) bool

// Message is what a dashboard receives for each status change
type Message struct {
	Type       string    `json:"type"`
	InvoiceID  string    `json:"invoice_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Client is a single connected dashboard
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	actor *entity.Actor
}

// Hub fans status-change events out to connected clients, each client
// receiving only invoices it may see
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	visible  VisibilityFunc
	upgrader websocket.Upgrader
	logger   Logger
}

// NewHub creates a hub. allowedOrigins lists the accepted Origin headers;
// "*" or an empty list accepts any origin.
func NewHub(visible VisibilityFunc, allowedOrigins []string, logger Logger) *Hub {
	origins := make(map[string]struct{}, len(allowedOrigins))
	anyOrigin := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		origins[o] = struct{}{}
	}

	return &Hub{
		clients: make(map[*Client]struct{}),
		visible: visible,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if anyOrigin {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// Register subscribes the hub to status-change events
func (h *Hub) Register(d dispatcher.Dispatcher) {
	d.Subscribe(event.TypeInvoiceStatusChanged, HandlerName, h.Handle)
}

// Handle broadcasts a status-change event. Clients whose buffer is full are
// dropped rather than blocking the dispatcher.
func (h *Hub) Handle(ctx context.Context, evt *event.Event) error {
	if evt.Type != event.TypeInvoiceStatusChanged {
		return nil
	}

	payload, err := json.Marshal(Message{
		Type:       evt.Type.String(),
		InvoiceID:  evt.InvoiceID,
		FromStatus: evt.GetPayloadString(event.KeyFromStatus),
		ToStatus:   evt.GetPayloadString(event.KeyToStatus),
		ActorID:    evt.GetPayloadString(event.KeyActorID),
		Timestamp:  evt.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	recipients := targets[:0]
	for _, c := range targets {
		if h.visible == nil || h.visible(ctx, c.actor, evt.InvoiceID) {
			recipients = append(recipients, c)
		}
	}

	// Sends happen under the read lock so remove and Close cannot close a
	// channel mid-send
	var slow []*Client
	h.mu.RLock()
	for _, c := range recipients {
		if _, registered := h.clients[c]; !registered {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Error("WebSocket client too slow, disconnecting", "actor_id", c.actor.ID)
		h.remove(c)
	}
	return nil
}

// ServeWS upgrades the request and registers the connection for actor
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, actor *entity.Actor) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), actor: actor}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected", "actor_id", actor.ID, "clients", total)

	go c.writePump()
	go c.readPump()
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

// remove unregisters c and closes its send channel once
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, found := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if found {
		close(c.send)
		h.logger.Info("WebSocket client disconnected", "actor_id", c.actor.ID)
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, open := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unregisters on disconnect
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "actor_id", c.actor.ID, "error", err)
			}
			return
		}
	}
}
