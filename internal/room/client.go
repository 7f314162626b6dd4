package room

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/instant-chat/instant/internal/envelope"
	"github.com/instant-chat/instant/internal/logging"
	"github.com/instant-chat/instant/internal/metrics"
	"go.uber.org/zap"
)

// State is the Client connection lifecycle.
type State int32

const (
	StateHandshake State = iota
	StateOpen
	StateClosing
	StateClosed
)

// DefaultSendQueueSize bounds a client's outbound queue (backpressure
// policy). A full queue means the writer can't keep up; Room.Broadcast and
// Room.Unicast report the offender back to the distributor instead of
// blocking the whole room on one slow reader.
const DefaultSendQueueSize = 64

// Conn is the subset of *websocket.Conn the Client needs, narrowed so tests
// can substitute an in-memory fake without standing up a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Dispatcher decodes and routes a client's inbound frames. Client depends
// only on this interface, not on the distributor package, so the two don't
// import each other.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, raw []byte)
	HandleDisconnect(ctx context.Context, c *Client)
}

// Client is one socket's worth of state: identity, cookies, current room
// membership, and the per-connection send queue. It is exclusively owned by
// the connection's read/write goroutines; a Room holds only a reference to
// it, and drops that reference before any further send once the client
// leaves.
type Client struct {
	ID         envelope.ConnectionID
	RemoteAddr string
	UserAgent  string
	Referer    string
	AuthCookie string
	SessionID  string
	CreatedAt  time.Time

	conn       Conn
	dispatcher Dispatcher

	mu    sync.RWMutex
	nick  string
	room  *Room
	state State

	send        chan []byte
	closeOnce   sync.Once
	closeSignal chan struct{}
	closeCode   int
	closeReason string
}

// NewClient wraps conn in a Client, defaulting to the anonymous nick and the
// HANDSHAKE state entered at TCP accept.
func NewClient(id envelope.ConnectionID, conn Conn, dispatcher Dispatcher, remoteAddr, userAgent, referer, authCookie, sessionID string) *Client {
	return &Client{
		ID:          id,
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		Referer:     referer,
		AuthCookie:  authCookie,
		SessionID:   sessionID,
		CreatedAt:   time.Now(),
		conn:        conn,
		dispatcher:  dispatcher,
		nick:        "anonymous",
		state:       StateHandshake,
		send:        make(chan []byte, DefaultSendQueueSize),
		closeSignal: make(chan struct{}),
	}
}

// Nick returns the client's current display name.
func (c *Client) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

// SetNick updates the client's display name. Validation (length, control
// characters) is the distributor's job, not the Client's.
func (c *Client) SetNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nick = nick
}

// Room returns the client's current room, or nil if it hasn't joined one
// yet (the connection is conceptually in the null room until then).
func (c *Client) Room() *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// Context returns a context carrying this connection's ID and, once
// joined, its current named room: the fields internal/logging's
// appendContextFields reads off ConnectionIDKey/RoomKey. Built fresh on
// each call since room membership can change over the connection's
// lifetime.
func (c *Client) Context() context.Context {
	c.mu.RLock()
	r := c.room
	c.mu.RUnlock()

	ctx := context.WithValue(context.Background(), logging.ConnectionIDKey, uint64(c.ID))
	if r != nil && !r.IsNull {
		ctx = context.WithValue(ctx, logging.RoomKey, r.Name)
	}
	return ctx
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Outbox exposes the client's outbound queue for callers outside the room
// package, primarily tests that need to observe what a client would have
// been sent without standing up a real WritePump.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

// enqueue pushes raw bytes onto the send queue without blocking. It reports
// false on overflow; the caller (Room.Broadcast/Unicast) hands the offender
// back to the distributor, which applies the overload failure semantics
// (close with 1011 and emit a leave presence) after the room lock is
// released, to avoid a deadlock.
func (c *Client) enqueue(raw []byte) bool {
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Close schedules the connection to close with the given WebSocket close
// code and reason. It is idempotent: only the first call has any effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.setState(StateClosing)
		close(c.closeSignal)
	})
}

// CloseOverloaded closes the connection with WebSocket code 1011 (internal
// overload), the backpressure policy for a client whose send queue overflowed.
func (c *Client) CloseOverloaded() {
	c.Close(1011, "send queue overflow")
}

// ReadPump continuously reads text frames off the socket and hands each one
// to the dispatcher, until the socket errors or closes. It always ends by
// notifying the dispatcher of the disconnect, which drives the room's leave
// path.
func (c *Client) ReadPump(ctx context.Context) {
	c.setState(StateOpen)
	defer func() {
		c.setState(StateClosed)
		c.dispatcher.HandleDisconnect(ctx, c)
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != textMessageType {
			continue
		}
		c.dispatcher.Dispatch(ctx, c, data)
	}
}

// WritePump drains the send queue onto the socket in FIFO order (the
// per-client ordering guarantee) until Close is called or the
// queue is closed. It owns the only writer of c.conn, so it is the sole
// place WriteMessage is called from.
func (c *Client) WritePump() {
	defer c.conn.Close()
	const writeWait = 10 * time.Second

	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(textMessageType, raw); err != nil {
				logging.Warn(c.Context(), "write failed, closing connection", zap.Error(err))
				return
			}
		case <-c.closeSignal:
			c.flushBeforeClose(closeGrace)
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteControl(closeMessageType, closeFramePayload(c.closeCode, c.closeReason), time.Now().Add(writeWait))
			return
		}
	}
}

// closeGrace bounds how long a closing connection keeps flushing frames
// that were already queued before the close frame goes out.
const closeGrace = time.Second

// flushBeforeClose writes whatever is already sitting in the send queue,
// giving up once grace elapses; anything still queued after that is
// discarded with the connection.
func (c *Client) flushBeforeClose(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for {
		if time.Now().After(deadline) {
			return
		}
		select {
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(textMessageType, raw); err != nil {
				return
			}
		default:
			return
		}
	}
}

// textMessageType and closeMessageType mirror gorilla/websocket's
// TextMessage/CloseMessage constants without importing the package here,
// keeping Client's Conn interface (and its tests) free of a hard dependency
// on gorilla's types.
const (
	textMessageType  = 1
	closeMessageType = 8
)

func closeFramePayload(code int, reason string) []byte {
	if code == 0 {
		code = 1000
	}
	buf := make([]byte, 2+len(reason))
	buf[0] = byte(code >> 8)
	buf[1] = byte(code)
	copy(buf[2:], reason)
	return buf
}
