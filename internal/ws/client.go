package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pliu/chatterbox/internal/models"
)

type Options struct {
	// MaxMessageSize bounds inbound frames in bytes.
	MaxMessageSize int64
	// SendBuffer is the number of outbound frames queued per connection
	// before it counts as a slow consumer.
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxMessageSize: 64 << 10,
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
	}
}

var _ Session = (*Client)(nil)

// Client is a server-side WebSocket connection. One goroutine reads and
// dispatches frames, another drains the send queue.
type Client struct {
	id   string
	conn *websocket.Conn
	opts Options
	log  logrus.FieldLogger

	user  atomic.Value // models.UserID
	state atomic.Int32

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, opts Options, log logrus.FieldLogger) *Client {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		opts: opts,
		log:  log.WithField("conn_id", id),
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() models.UserID {
	u, _ := c.user.Load().(models.UserID)
	return u
}

func (c *Client) State() State { return State(c.state.Load()) }

// Authenticate binds the connection to user. It succeeds once, and only
// before Run.
func (c *Client) Authenticate(user models.UserID) error {
	if user == "" {
		return ErrUnauthenticated
	}
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateAuthenticated)) {
		return errors.Errorf("authenticate in state %s", c.State())
	}
	c.user.Store(user)
	c.log = c.log.WithField("user_id", user)
	return nil
}

func (c *Client) Send(payload []byte) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("send buffer full, closing connection")
		// The writer may be stuck on this peer; closing the socket waits
		// for it, so do that off the caller's goroutine.
		if c.markClosed() {
			go c.shutdown()
		}
		return ErrSlowConsumer
	}
}

// Close is safe to call from any goroutine and more than once.
func (c *Client) Close() {
	if c.markClosed() {
		c.shutdown()
	}
}

// markClosed moves the client to StateClosed and reports whether this call
// did it.
func (c *Client) markClosed() bool {
	first := false
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		first = true
	})
	return first
}

func (c *Client) shutdown() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	c.conn.Close()
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run serves the connection until the peer goes away or ctx ends. The
// connection must be authenticated; it turns active on its first frame.
func (c *Client) Run(ctx context.Context, h Handler) error {
	if st := c.State(); st != StateAuthenticated {
		c.Close()
		return errors.Errorf("run in state %s", st)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.Close()
		return c.readPump(gctx, h)
	})
	g.Go(func() error {
		defer c.Close()
		return c.writePump(gctx)
	})
	return g.Wait()
}

func (c *Client) readPump(ctx context.Context, h Handler) error {
	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() == StateClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			c.log.WithError(err).Debug("read failed")
			return errors.Wrap(err, "read")
		}
		c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
		h.HandleMessage(ctx, c, raw)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if c.State() == StateClosed {
					return nil
				}
				return errors.Wrap(err, "write")
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if c.State() == StateClosed {
					return nil
				}
				return errors.Wrap(err, "ping")
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
