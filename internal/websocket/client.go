package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	sendBufferSize = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	// ID is the connection reference stored on the user while online.
	ID  uuid.UUID
	Hub *Hub

	UserID   uuid.UUID
	Username string

	Conn *websocket.Conn

	// Buffered channel of outbound frames. Never closed; done signals
	// shutdown instead.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, userID uuid.UUID, username string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.New(),
		Hub:      hub,
		UserID:   userID,
		Username: username,
		Conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Enqueue hands a frame to the write pump without blocking.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads frames and hands them to handle one at a time, so events
// from one connection are processed in the order they were sent.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(context.Background(), c)
		c.Close()
		c.Conn.Close()
		jww.DEBUG.Printf("WebSocket Client ReadPump stopped for User %s", c.UserID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				jww.WARN.Printf("WebSocket read error for User %s: %v", c.UserID, err)
			}
			return
		}
		handle(c, message)
	}
}

// WritePump writes queued frames, one event per websocket message, and
// keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		jww.DEBUG.Printf("WebSocket Client WritePump stopped for User %s", c.UserID)
	}()
	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				jww.WARN.Printf("WebSocket write error for User %s: %v", c.UserID, err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				jww.WARN.Printf("WebSocket write error (Ping) for User %s: %v", c.UserID, err)
				c.Close()
				return
			}
		}
	}
}
