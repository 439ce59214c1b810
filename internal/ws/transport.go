package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 25 * time.Second
	sendBufferSize = 256
	maxFrameSize   = 1024
)

// transport adapts a websocket connection to the hub's Transport interface:
// a buffered send queue drained by a dedicated write pump. Send never blocks
// the hub; a full buffer means the connection is too slow and the frame is
// dropped.
type transport struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newTransport(conn *websocket.Conn) *transport {
	return &transport{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (t *transport) Send(payload []byte) error {
	select {
	case <-t.closed:
		return errors.New("connection closed")
	case t.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (t *transport) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// writePump owns all writes to the websocket, including keepalive pings.
func (t *transport) writePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer t.conn.Close()

	for {
		select {
		case <-t.closed:
			return
		case payload := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
