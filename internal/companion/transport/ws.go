package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// wsMessage mirrors the hub's broadcast frame. Only Type matters for
// dispatch; the rest is passed through to the handler.
type wsMessage struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Notification is one real-time message received over the hub's WebSocket.
type Notification struct {
	Type   string
	Entity string
	Action string
	ID     string
}

// NotificationHandler reacts to one message type. Handlers run on the listen
// goroutine, so they must not block.
type NotificationHandler func(Notification)

// Listen connects to the hub's WebSocket using a freshly minted one-time
// ticket and dispatches incoming messages to the registered handlers until
// the context is cancelled or the connection drops. It returns the reason the
// connection ended; callers decide whether and when to reconnect.
func (c *Client) Listen(ctx context.Context, handlers map[string]NotificationHandler) error {
	ticket, err := c.MintTicket(ctx)
	if err != nil {
		return fmt.Errorf("mint ticket: %w", err)
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws/connect?ticket=" + ticket
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.http,
	})
	if err != nil {
		return fmt.Errorf("%w: dial websocket: %v", ErrUnavailable, err)
	}
	defer conn.CloseNow()

	c.logger.Info("websocket connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutting down")
				return ctx.Err()
			}
			return fmt.Errorf("%w: read: %v", ErrUnavailable, err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			// Malformed frames are dropped; the sync pull is the
			// authoritative channel anyway.
			c.logger.Warn("dropping malformed websocket frame", "size", len(data))
			continue
		}

		if h, ok := handlers[msg.Type]; ok {
			h(Notification{Type: msg.Type, Entity: msg.Entity, Action: msg.Action, ID: msg.ID})
		}
	}
}

// ListenLoop keeps a WebSocket connection alive, reconnecting with a fixed
// pause after drops. It returns when the context is cancelled.
func (c *Client) ListenLoop(ctx context.Context, handlers map[string]NotificationHandler) {
	for {
		err := c.Listen(ctx, handlers)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("websocket disconnected, will retry", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(15 * time.Second):
		}
	}
}
