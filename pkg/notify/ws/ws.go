// Package ws delivers order lifecycle events to connected buyers and
// sellers over websockets.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"farmmarket/pkg/logger"
	"farmmarket/pkg/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

type delivery struct {
	userIDs []string
	payload []byte
}

// Hub tracks connected clients per user and pushes lifecycle events to the
// buyer's and seller's connections. It implements notify.Sink.
type Hub struct {
	log        *logger.Logger
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	deliveries chan delivery
}

// NewHub creates a Hub. Run must be started before clients connect.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliveries: make(chan delivery, 64),
	}
}

// Run owns the client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, conns := range h.clients {
				for c := range conns {
					close(c.send)
				}
			}
			return

		case c := <-h.register:
			conns := h.clients[c.userID]
			if conns == nil {
				conns = make(map[*client]bool)
				h.clients[c.userID] = conns
			}
			conns[c] = true

		case c := <-h.unregister:
			if conns, ok := h.clients[c.userID]; ok && conns[c] {
				delete(conns, c)
				close(c.send)
				if len(conns) == 0 {
					delete(h.clients, c.userID)
				}
			}

		case d := <-h.deliveries:
			for _, userID := range d.userIDs {
				for c := range h.clients[userID] {
					select {
					case c.send <- d.payload:
					default:
						// Slow consumer; drop rather than block the hub.
					}
				}
			}
		}
	}
}

// Emit pushes the event to the buyer's and seller's connections.
func (h *Hub) Emit(ctx context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.deliveries <- delivery{userIDs: []string{ev.BuyerID, ev.SellerID}, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve upgrades the request and keeps the connection registered for
// userID until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade", "error", err)
		return
	}
	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c
	go c.writePump()
	go c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients only listen; reads exist to notice closes and pongs.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
