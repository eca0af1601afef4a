// Package client is a websocket chat client that keeps optimistic local
// copies of outgoing messages and reconciles them with server events.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	writeWait     = 10 * time.Second
	eventsBufSize = 256
)

// Client is one authenticated connection to the chat server.
type Client struct {
	UserID uuid.UUID

	conn   *ws.Conn
	outbox *Outbox
	events chan websocket.Envelope

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial opens the realtime channel at serverURL (http or ws scheme) with the
// given bearer token.
func Dial(ctx context.Context, serverURL, token string, userID uuid.UUID) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing server url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, resp, err := ws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s: status %d", u.Host, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dialing %s", u.Host)
	}

	c := &Client{
		UserID: userID,
		conn:   conn,
		outbox: NewOutbox(),
		events: make(chan websocket.Envelope, eventsBufSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields every server event after the client has applied it to the
// outbox. Events are dropped when the consumer falls behind.
func (c *Client) Events() <-chan websocket.Envelope {
	return c.events
}

func (c *Client) Outbox() *Outbox {
	return c.outbox
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send emits a message optimistically. The returned Pending resolves with
// the server's copy or with the rejection.
func (c *Client) Send(receiverID uuid.UUID, content string, typ models.MessageType) (*Pending, error) {
	if typ == "" {
		typ = models.MessageText
	}
	tempID := "tmp-" + uuid.NewString()
	p := c.outbox.Add(tempID, c.UserID, receiverID, content, typ)
	err := c.emit(websocket.EventSendMessage, websocket.SendMessagePayload{
		ReceiverID: receiverID,
		Content:    content,
		Type:       typ,
		TempID:     tempID,
	})
	if err != nil {
		c.outbox.Fail(tempID, err)
		return p, err
	}
	return p, nil
}

func (c *Client) MarkRead(senderID uuid.UUID, messageIDs []uuid.UUID) error {
	return c.emit(websocket.EventMarkAsRead, websocket.MarkAsReadPayload{MessageIDs: messageIDs, SenderID: senderID})
}

func (c *Client) Typing(receiverID uuid.UUID, isTyping bool) error {
	event := websocket.EventTypingStop
	if isTyping {
		event = websocket.EventTypingStart
	}
	return c.emit(event, websocket.TypingPayload{ReceiverID: receiverID})
}

func (c *Client) emit(event string, data interface{}) error {
	frame, err := websocket.Encode(event, data)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", event)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(ws.TextMessage, frame); err != nil {
		return errors.Wrapf(err, "writing %s", event)
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer c.once.Do(func() { close(c.done) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				jww.WARN.Printf("Client %s read error: %v", c.UserID, err)
			}
			return
		}
		var env websocket.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			jww.WARN.Printf("Client %s got malformed frame: %v", c.UserID, err)
			continue
		}
		c.apply(env)
		select {
		case c.events <- env:
		default:
			jww.DEBUG.Printf("Client %s dropped %s; consumer is behind", c.UserID, env.Event)
		}
	}
}

// apply reconciles the outbox with one server event.
func (c *Client) apply(env websocket.Envelope) {
	switch env.Event {
	case websocket.EventMessageSent:
		var p websocket.MessageSentPayload
		if json.Unmarshal(env.Data, &p) == nil && p.Message != nil {
			c.outbox.Acknowledge(p.TempID, p.Message)
		}
	case websocket.EventMessageDelivered:
		var p websocket.MessageDeliveredPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.outbox.Advance(p.ServerID, models.StatusDelivered, p.DeliveredAt)
		}
	case websocket.EventMessagesRead:
		var p websocket.MessagesReadPayload
		if json.Unmarshal(env.Data, &p) == nil {
			for _, id := range p.MessageIDs {
				c.outbox.Advance(id, models.StatusRead, p.ReadAt)
			}
		}
	case websocket.EventError:
		var p websocket.ErrorPayload
		if json.Unmarshal(env.Data, &p) == nil && p.TempID != "" {
			c.outbox.Fail(p.TempID, errors.Wrapf(ErrRejected, "%s: %s", p.Code, p.Message))
		}
	}
}
