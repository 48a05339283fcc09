package master

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/ianremillard/duach/internal/wire"
)

// clientState tracks where a connection is in its handshake.
type clientState int

const (
	stateAwaitingHeader clientState = iota
	stateActive
	stateClosing
)

// client is one attached (or attaching) connection. Only the dispatcher
// goroutine in Session.run touches state/attach fields; the outbound queue
// (mu/queue/cond) is also written to by Session.run's fan-out but drained by
// this client's own writer goroutine, so it gets its own lock.
type client struct {
	id    string
	conn  net.Conn
	state clientState

	redrawMethod byte

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []byte
	closed bool

	queueBound int
	dropped    bool // set once, under mu, when the queue overflowed
}

// clientFrame is what a client's reader goroutine hands to the dispatcher,
// over the single shared channel every client reader shares (see
// Session.frameCh): it identifies which client a frame came from since the
// dispatcher can't select on a dynamic set of per-client channels.
type clientFrame struct {
	client  *client
	typ     byte
	payload []byte
	err     error // non-nil (often io.EOF) means the connection is gone
}

func newClient(conn net.Conn, queueBound int) *client {
	c := &client{
		id:         uuid.NewString(),
		conn:       conn,
		state:      stateAwaitingHeader,
		queueBound: queueBound,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// enqueue appends data to the outbound queue, signaling the writer
// goroutine. If the queue would exceed queueBound, it returns false and the
// caller must drop this client: a slow client's outbound queue only grows
// while writes would block, and overflow means disconnect, never stalling
// the child.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true // already being torn down; nothing to do
	}
	if len(c.queue)+len(data) > c.queueBound {
		c.dropped = true
		return false
	}
	c.queue = append(c.queue, data...)
	c.cond.Signal()
	return true
}

// writerLoop drains the outbound queue to the connection in FIFO order
// until the client is closed or a write fails. Run in its own goroutine per
// client so a slow reader on the other end never blocks the dispatcher.
func (c *client) writerLoop() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed && len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		data := c.queue
		c.queue = nil
		c.mu.Unlock()

		if _, err := c.conn.Write(data); err != nil {
			c.Close()
			return
		}
	}
}

// readerLoop reads framed client->master messages and forwards them to the
// dispatcher over sessionFrameCh. Exits (after delivering a final error
// frame) when the connection closes or a frame is malformed.
func (c *client) readerLoop(sessionFrameCh chan<- clientFrame) {
	for {
		typ, payload, err := wire.ReadFrame(c.conn)
		sessionFrameCh <- clientFrame{client: c, typ: typ, payload: payload, err: err}
		if err != nil {
			return
		}
	}
}

// Close marks the client closed and wakes its writer goroutine so it exits;
// safe to call more than once and from multiple goroutines.
func (c *client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	c.conn.Close()
}

