package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/inventory-sync/utils"
)

const (
	writeTimeout = 5 * time.Second
	// sendBuffer is how many events a slow client may fall behind before it
	// is dropped.
	sendBuffer = 64
)

type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	role string
	send chan []byte
}

// Hub holds the websocket clients following sync activity and broadcasts
// every published event to all of them. Publish never waits on a socket;
// each client has its own writer goroutine.
type Hub struct {
	clients map[*websocket.Conn]*client
	mutex   sync.Mutex

	upgrader websocket.Upgrader
}

func New(allowedOrigin string) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

// RegisterClient adds conn and starts its writer.
func (h *Hub) RegisterClient(conn *websocket.Conn, role string) {
	c := &client{conn: conn, role: role, send: make(chan []byte, sendBuffer)}
	h.mutex.Lock()
	h.clients[conn] = c
	h.mutex.Unlock()

	go h.writePump(c)
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mutex.Lock()
	h.removeLocked(conn)
	h.mutex.Unlock()
	conn.Close()
}

// removeLocked drops conn; the caller holds the mutex. Closing send stops
// the writer.
func (h *Hub) removeLocked(conn *websocket.Conn) {
	if c, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(c.send)
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Publish queues an event for every client. Clients whose buffer is full
// are dropped.
func (h *Hub) Publish(event string, data any) {
	h.broadcast(Message{Event: event, Data: data})
}

func (h *Hub) broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		utils.ErrorLogger.Errorf("Error marshaling %s message: %v", msg.Event, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			utils.ErrorLogger.WithField("role", c.role).Warn("Dropping websocket client that fell behind")
			h.removeLocked(conn)
			conn.Close()
		}
	}
}

func (h *Hub) writePump(c *client) {
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			utils.ErrorLogger.WithField("role", c.role).Warnf("Dropping websocket client: %v", err)
			h.UnregisterClient(c.conn)
			return
		}
	}
}

// Handler upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *Hub) Handler(c *gin.Context) {
	role := c.GetString("role")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	h.RegisterClient(ws, role)
	utils.InfoLogger.WithField("role", role).Println("Sync activity client connected")

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.UnregisterClient(ws)
}
