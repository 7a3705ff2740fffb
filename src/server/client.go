package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	maxMessageSize = 64 * 1024 // client commands are short text frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is the read side of one websocket. Writes go through the
// ConnectionManager, which owns the socket once registered.
type Client struct {
	id      string
	manager *ConnectionManager
	conn    *websocket.Conn
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer c.manager.Disconnect(c.id)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.manager.Touch(c.id)
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.logger.Debug("WebSocket read error for %s: %v", c.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.manager.Touch(c.id)
			continue
		}
		if err := c.manager.HandleMessage(c.id, string(message)); err != nil {
			c.manager.logger.Debug("Client %s: %v", c.id, err)
		}
	}
}

// -----------------------------------------------------------------------------
// ServeWebSocket upgrades the request and blocks until the client goes away.
// -----------------------------------------------------------------------------

func (m *ConnectionManager) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	id, err := m.Connect(conn)
	if err != nil {
		// Connect already closed the socket
		return
	}

	client := &Client{id: id, manager: m, conn: conn}
	client.readPump()
}
