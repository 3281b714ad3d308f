package hub

import "errors"

// ErrSendBlocked is returned by Conn.Send when the connection cannot
// take the event right now (queue full or already closed). The hub
// treats it as a dropped fire-and-forget send.
var ErrSendBlocked = errors.New("connection send blocked")

// Conn is the send side of one live connection. Implementations must
// make Send non-blocking: enqueue or fail, never stall a broadcast.
// Events enqueued on one Conn are delivered in enqueue order.
type Conn interface {
	ID() string
	Send(event string, payload interface{}) error
}
