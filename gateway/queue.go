package gateway

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// queueCapacity bounds the number of outbound frames buffered between
// the protocol layer and the wire.
const queueCapacity = 64

var (
	// ErrQueueClosed is returned by Enqueue after Complete.
	ErrQueueClosed = errors.New("outbound queue closed")

	// ErrQueueFull is returned when the queue's buffer is exhausted.
	ErrQueueFull = errors.New("outbound queue full")
)

// outboundQueue is the bounded, ordered conduit between protocol
// message production and the websocket send side. One queue exists per
// connection attempt; the supervisor guarantees the previous queue has
// completed before creating a new one.
type outboundQueue struct {
	sock controlSocket

	mu       sync.Mutex
	closed   bool
	messages chan []byte
	done     chan struct{}
}

// newOutboundQueue creates a queue bound to a socket and starts its
// write pump.
func newOutboundQueue(sock controlSocket) *outboundQueue {
	q := &outboundQueue{
		sock:     sock,
		messages: make(chan []byte, queueCapacity),
		done:     make(chan struct{}),
	}
	go q.pump()
	return q
}

// Enqueue appends a frame for transmission. It never blocks: a full
// buffer is reported as ErrQueueFull rather than waiting, and frames
// are transmitted strictly in enqueue order.
func (q *outboundQueue) Enqueue(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.messages <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Complete closes the queue gracefully: already-enqueued frames are
// flushed to the socket before the pump exits. Safe to call more than
// once.
func (q *outboundQueue) Complete() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.messages)
}

// Done returns a channel closed once the pump has exited, either after
// a graceful Complete or because the underlying socket failed.
func (q *outboundQueue) Done() <-chan struct{} {
	return q.done
}

// pump writes frames to the socket in order until the queue completes
// or a write fails.
func (q *outboundQueue) pump() {
	defer close(q.done)

	for frame := range q.messages {
		if err := q.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "pump",
				"error":    err.Error(),
			}).Debug("Outbound queue write failed")
			return
		}
	}
}
