package livecount

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Send buffer size per channel.
const sendBufferSize = 16

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrChannelFull   = errors.New("channel send buffer full")
)

// Channel is one open push connection to a browser.
type Channel interface {
	ID() string
	// Send enqueues a payload without blocking.
	Send(payload []byte) error
	// Close moves the channel to its terminal state. Safe to call twice.
	Close()
}

// queueChannel buffers payloads for the goroutine that owns the connection.
// Both the SSE and WebSocket endpoints use it.
type queueChannel struct {
	id    string
	queue chan []byte
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newQueueChannel() *queueChannel {
	return &queueChannel{
		id:    uuid.New().String(),
		queue: make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
	}
}

func (c *queueChannel) ID() string { return c.id }

func (c *queueChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.queue <- payload:
		return nil
	default:
		// A client that cannot keep up is treated as gone.
		return ErrChannelFull
	}
}

func (c *queueChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Messages returns the queued payloads.
func (c *queueChannel) Messages() <-chan []byte { return c.queue }

// Done is closed once the channel is closed.
func (c *queueChannel) Done() <-chan struct{} { return c.done }
