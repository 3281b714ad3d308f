package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atendolive/atendo/backend/internal/hub"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	sendQueueSize = 64
)

// outEvent is the server-to-client envelope.
type outEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// wsConn adapts one gorilla connection to hub.Conn. Sends are
// enqueued; a dedicated writer goroutine owns the socket's write side
// and delivers events in enqueue order.
type wsConn struct {
	id     string
	socket *websocket.Conn

	out       chan outEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(socket *websocket.Conn) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		socket: socket,
		out:    make(chan outEvent, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send enqueues without blocking. A full queue or a finished
// connection yields ErrSendBlocked, which the hub counts as a drop.
func (c *wsConn) Send(event string, payload interface{}) error {
	select {
	case <-c.done:
		return hub.ErrSendBlocked
	default:
	}
	select {
	case c.out <- outEvent{Event: event, Data: payload}:
		return nil
	default:
		return hub.ErrSendBlocked
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writeLoop drains the queue and keeps the connection alive with
// pings. Any write failure ends the connection.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(ev); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
