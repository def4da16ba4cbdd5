package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/game"
	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/protocol"
)

const sendQueueSize = 64

// Client is one websocket connection. It is the game.Peer handed to the
// registry; outbound frames are queued and written by the connection's
// writer goroutine.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{id: randID(), conn: conn, send: make(chan []byte, sendQueueSize)}
}

// ID is the connection id used in logs.
func (c *Client) ID() string { return c.id }

// Send queues msg without blocking. A full queue or a closed connection is
// reported as a delivery failure.
func (c *Client) Send(_ context.Context, msg protocol.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return game.WrapError(game.CodeDeliveryFailure, "connection closed", fmt.Errorf("client %s", c.id))
	}
	select {
	case c.send <- b:
		return nil
	default:
		return game.WrapError(game.CodeDeliveryFailure, "send queue full", fmt.Errorf("client %s", c.id))
	}
}

// close stops the writer; later Sends fail.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func randID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
