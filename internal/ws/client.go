package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"syncstart/internal/services/room"
)

var (
	ErrBackpressure = errors.New("send queue full")
	ErrConnClosed   = errors.New("connection closed")
)

// clientConn owns one websocket. Writes go through the send queue so a slow
// peer never stalls whoever is sending to it.
type clientConn struct {
	id      string
	rawConn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool

	alive atomic.Bool
}

var _ room.Peer = (*clientConn)(nil)

func newClientConn(id string, rawConn *websocket.Conn, buffer int) *clientConn {
	c := &clientConn{
		id:      id,
		rawConn: rawConn,
		send:    make(chan []byte, buffer),
	}
	c.alive.Store(true)
	return c
}

// Send queues msg. It never blocks.
func (c *clientConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close lets the writer flush what is queued, then sends a close frame.
func (c *clientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *clientConn) writePump() {
	defer c.rawConn.Close()

	for msg := range c.send {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.rawConn.WriteMessage(websocket.TextMessage, msg); err != nil {
			zap.L().Debug("ws.write", zap.String("conn_id", c.id), zap.Error(err))
			// Unblock the reader; it will Close and end the range below.
			_ = c.rawConn.Close()
			for range c.send {
			}
			return
		}
	}

	_ = c.rawConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// ping marks the connection as unanswered and probes it. The pong handler
// flips it back.
func (c *clientConn) ping() error {
	c.alive.Store(false)
	return c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// terminate drops the socket without a close handshake.
func (c *clientConn) terminate() {
	_ = c.rawConn.Close()
}
