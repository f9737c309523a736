package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the position of a connection in the authentication handshake.
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingCredentials
	StateAuthenticated
	StateRefused
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingCredentials:
		return "awaiting_credentials"
	case StateAuthenticated:
		return "authenticated"
	case StateRefused:
		return "refused"
	default:
		return "unknown"
	}
}

var ErrConnClosed = errors.New("realtime: connection closed")

type pendingReply struct {
	responder Responder
	timer     *time.Timer
}

// Conn is one client connection. Identity and room fields are written by the
// Registry while it holds its own lock, so membership and state move together.
type Conn struct {
	id        string
	transport Transport
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	state   State
	userID  string
	role    string
	roomID  string
	closed  bool
	nextAck uint64
	pending map[uint64]*pendingReply
}

func newConn(parent context.Context, id string, transport Transport, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		id:        id,
		transport: transport,
		logger:    logger.With("connID", id),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[uint64]*pendingReply),
	}
}

func (c *Conn) ID() string { return c.id }

// Context is cancelled when the connection goes away.
func (c *Conn) Context() context.Context { return c.ctx }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Conn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// transition moves the state forward only from the expected state.
func (c *Conn) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *Conn) write(frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	return c.transport.Send(frame)
}

// expect arms a reply slot that fires r.Expire after timeout unless claimed first.
func (c *Conn) expect(r Responder, timeout time.Duration) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.nextAck++
	ack := c.nextAck
	p := &pendingReply{responder: r}
	p.timer = time.AfterFunc(timeout, func() {
		if expired, ok := c.claim(ack); ok {
			expired.Expire()
		}
	})
	c.pending[ack] = p
	return ack, true
}

// claim removes the reply slot; only the first caller for a given ack wins.
func (c *Conn) claim(ack uint64) (Responder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[ack]
	if !ok {
		return nil, false
	}
	delete(c.pending, ack)
	p.timer.Stop()
	return p.responder, true
}

// markClosed flags the connection as gone, cancels its context and hands back
// the reply slots that were still open. Later calls return nothing.
func (c *Conn) markClosed() []Responder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	open := make([]Responder, 0, len(c.pending))
	for ack, p := range c.pending {
		p.timer.Stop()
		open = append(open, p.responder)
		delete(c.pending, ack)
	}
	return open
}

func (c *Conn) pendingReplies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
