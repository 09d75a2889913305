package fanout

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	// Buffer depth for outgoing candles. At a few candles per second per
	// subscribed symbol this absorbs minutes of network stall.
	sendBufferSize = 256

	// Consecutive full-buffer sends before a client is considered too
	// slow and disconnected.
	slowClientStrikes = 3
)

// Client is one connected WebSocket session.
type Client struct {
	id     int64
	conn   net.Conn
	remote string

	// send is never closed; done signals the write pump to exit. Closing
	// send would race with concurrent broadcasts.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Consecutive failed sends, reset on any success.
	strikes int32
}

func newClient(id int64, conn net.Conn) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// trySend queues a message without blocking. It reports whether the client
// crossed the slow-client strike threshold and should be disconnected.
func (c *Client) trySend(message []byte) (sent, tooSlow bool) {
	select {
	case c.send <- message:
		atomic.StoreInt32(&c.strikes, 0)
		return true, false
	default:
		return false, atomic.AddInt32(&c.strikes, 1) >= slowClientStrikes
	}
}

// closeSlow sends a policy-violation close frame and tears the connection
// down. Used for slow-client disconnects.
func (c *Client) closeSlow() {
	c.closeOnce.Do(func() {
		frame := ws.NewCloseFrameBody(ws.StatusPolicyViolation, "too slow")
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, frame)
		_ = c.conn.Close()
		close(c.done)
	})
}

// close tears the connection down without a close frame.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.done)
	})
}
