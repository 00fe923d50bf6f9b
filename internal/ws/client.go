package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundSize = 512
)

// Client is one connected battle watcher.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	profileID string
	send      chan []byte
}

// NewClient attaches a websocket connection to the session's hub and starts
// its pump goroutines. Returns nil if the hub shut down between lookup and
// attach; the connection is closed in that case.
func NewClient(hub *Hub, conn *websocket.Conn, profileID string) *Client {
	client := &Client{
		hub:       hub,
		conn:      conn,
		profileID: profileID,
		send:      make(chan []byte, 16),
	}

	select {
	case hub.register <- client:
	case <-hub.shutdown:
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return client
}

// readPump drains inbound frames. Watchers are read-only; inbound payloads
// are discarded, but the pump is required to process control frames.
func (c *Client) readPump() {
	defer func() {
		// The hub may already be gone; never block on a closed hub.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
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
