package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// Hub maintains the set of connected feed clients and pushes every
// published event envelope to the clients subscribed to its detail type.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	mutex      sync.RWMutex
}

// Client is one WebSocket feed connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	detailTypes []string
	logger      logging.Logger
}

// SubscriptionMessage is the only message clients send: a request to
// narrow or widen the detail types they receive. An empty list means
// every event.
type SubscriptionMessage struct {
	Action      string   `json:"action"`
	DetailTypes []string `json:"detail_types"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a feed hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Feed client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Feed client disconnected")

		case message := <-h.broadcast:
			h.broadcastEnvelope(message)
		}
	}
}

// Broadcast queues an event envelope for delivery to subscribed clients.
// The feed is best-effort: if the hub is saturated the envelope is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Feed broadcast channel full, dropping envelope")
	}
}

func (h *Hub) broadcastEnvelope(message []byte) {
	var evt events.Event
	if err := json.Unmarshal(message, &evt); err != nil {
		h.logger.WithError(err).Error("Failed to unmarshal feed envelope")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if !client.wantsDetailType(string(evt.DetailType)) {
			continue
		}

		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// wantsDetailType reports whether the client's subscription matches.
// Clients with no explicit subscription receive everything.
func (c *Client) wantsDetailType(detailType string) bool {
	if len(c.detailTypes) == 0 {
		return true
	}
	for _, dt := range c.detailTypes {
		if dt == detailType || dt == "all" {
			return true
		}
	}
	return false
}

// Stats returns the current client count and per-detail-type
// subscription counts.
func (h *Hub) Stats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	subscriptions := make(map[string]int)
	for client := range h.clients {
		for _, dt := range client.detailTypes {
			subscriptions[dt]++
		}
	}

	return map[string]interface{}{
		"total_clients": len(h.clients),
		"subscriptions": subscriptions,
	}
}

// ServeWS upgrades an HTTP request to a feed connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// readPump consumes subscription messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("Feed connection error")
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.WithError(err).Warn("Invalid subscription message")
			continue
		}

		c.handleSubscription(&subMsg)
	}
}

// writePump flushes queued envelopes and keeps the connection alive.
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

func (c *Client) handleSubscription(msg *SubscriptionMessage) {
	switch msg.Action {
	case "subscribe":
		c.hub.mutex.Lock()
		c.detailTypes = append(c.detailTypes, msg.DetailTypes...)
		current := append([]string(nil), c.detailTypes...)
		c.hub.mutex.Unlock()

		c.logger.WithField("detail_types", msg.DetailTypes).Info("Feed client subscribed")
		c.sendControl(map[string]interface{}{
			"type":         "subscription_confirmed",
			"detail_types": current,
		})

	case "unsubscribe":
		c.hub.mutex.Lock()
		kept := c.detailTypes[:0]
		for _, existing := range c.detailTypes {
			remove := false
			for _, dt := range msg.DetailTypes {
				if dt == existing {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, existing)
			}
		}
		c.detailTypes = kept
		current := append([]string(nil), c.detailTypes...)
		c.hub.mutex.Unlock()

		c.sendControl(map[string]interface{}{
			"type":         "subscription_updated",
			"detail_types": current,
		})

	default:
		c.logger.WithField("action", msg.Action).Warn("Unknown feed action")
	}
}

func (c *Client) sendControl(payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal control message")
		return
	}

	select {
	case c.send <- raw:
	default:
		c.logger.Warn("Feed client send buffer full, dropping control message")
	}
}
