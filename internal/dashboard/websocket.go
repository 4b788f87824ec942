package dashboard

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsHub fans out broadcast activity events to every connected dashboard
// client. A single goroutine owns the connection set; register,
// unregister, and broadcast all happen over channels so nothing else
// needs to lock it.
type wsHub struct {
	connections map[*wsConn]bool

	broadcastCh chan []byte

	registerCh   chan *wsConn
	unregisterCh chan *wsConn
}

// wsConn wraps a single WebSocket connection.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSHub creates a new WebSocket hub.
func newWSHub() *wsHub {
	return &wsHub{
		connections:  make(map[*wsConn]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *wsConn),
		unregisterCh: make(chan *wsConn),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.registerCh:
			h.connections[conn] = true
			slog.Debug("websocket client connected", "total", len(h.connections))

		case conn := <-h.unregisterCh:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
				slog.Debug("websocket client disconnected", "total", len(h.connections))
			}

		case msg := <-h.broadcastCh:
			for conn := range h.connections {
				select {
				case conn.send <- msg:
				default:
					delete(h.connections, conn)
					close(conn.send)
				}
			}
		}
	}
}

// broadcast is non-blocking; a full channel drops the event rather than
// stalling the caller.
func (h *wsHub) broadcast(msg []byte) {
	select {
	case h.broadcastCh <- msg:
	default:
	}
}

// handleWebSocket upgrades the request and registers the connection with
// the hub for the lifetime of the socket.
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsConn{
		conn: conn,
		send: make(chan []byte, 64),
	}

	d.wsHub.registerCh <- client

	go client.writePump()
	go client.readPump(d.wsHub)
}

func (c *wsConn) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// readPump only drains the client's (one-directional) socket to notice a
// disconnect; the feed never reads an incoming message's contents.
func (c *wsConn) readPump(hub *wsHub) {
	defer func() {
		hub.unregisterCh <- c
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
	}
}
