package ws

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/rollcall/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	cameraID string // optional filter
}

type message struct {
	cameraID string
	data     []byte
}

// Hub maintains active WebSocket clients and broadcasts match events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.cameraID)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if client.cameraID != "" && client.cameraID != msg.cameraID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				slog.Debug("ws client too slow, disconnecting")
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		observability.WSConnections.Dec()
	}
}

// Broadcast queues an encoded event of cameraID for every subscriber. It
// drops the event when the hub is saturated.
func (h *Hub) Broadcast(cameraID string, data []byte) {
	select {
	case h.broadcast <- message{cameraID: cameraID, data: data}:
	default:
		slog.Warn("ws broadcast buffer full, dropping event", "camera_id", cameraID)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request. ?camera_id= limits the feed to one camera.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		cameraID: c.Query("camera_id"),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump only detects disconnection; clients send nothing.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
