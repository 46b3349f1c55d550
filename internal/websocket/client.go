package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16

	// heartbeatInterval is how often the hub pings a companion. A ping that
	// is not answered within the interval marks the connection dead.
	heartbeatInterval = 30 * time.Second
)

// Client represents a single connected companion device.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	deviceID string
	send     chan []byte
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, deviceID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		deviceID: deviceID,
		send:     make(chan []byte, sendBufferSize),
	}
}

// DeviceID returns the paired device this connection authenticated as.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump reads and discards all incoming frames; companions do not send
// data over this channel. Reading also services pong replies. It returns on
// error (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends heartbeat pings; an unanswered ping ends the connection.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel — connection is done
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatInterval)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
