package mirror

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/pkg/tabledto"
)

var ErrNotConnected = errors.New("mirror: not connected")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Handler receives every decoded coordinator message, in order.
type Handler func(msg tabledto.Message)

type ClientOptions struct {
	PingInterval         time.Duration
	MaxReconnectAttempts int
	Header               http.Header
	OnState              func(State)
}

// Client is the websocket transport under a Mirror. It dials the table,
// feeds every frame to the handler and redials with backoff when the link drops.
type Client struct {
	url     string
	handler Handler
	opts    ClientOptions

	connM  sync.RWMutex
	conn   *websocket.Conn
	state  State
	closed bool

	writeM sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewClient(url string, handler Handler, opts ClientOptions) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		handler:    handler,
		opts:       opts,
		state:      StateDisconnected,
		stopCh:     make(chan struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.connM.RLock()
	st := c.state
	c.connM.RUnlock()
	if st == StateConnected || st == StateConnecting {
		return nil
	}
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	if !c.attach(conn) {
		c.setState(StateDisconnected)
		return ErrNotConnected
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.opts.Header,
	})
	return conn, err
}

// attach installs conn and starts its loops. After Close it closes conn and
// reports false. The goroutines are added under connM so Close never waits on
// a WaitGroup that is still growing.
func (c *Client) attach(conn *websocket.Conn) bool {
	c.connM.Lock()
	if c.closed {
		c.connM.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return false
	}
	c.conn = conn
	c.wg.Add(2)
	c.connM.Unlock()

	c.setState(StateConnected)
	obslog.L().Info("mirror_connected", zap.String("url", c.url))
	go c.listen(conn)
	go c.pingLoop(conn)
	return true
}

// Send writes one frame. Concurrent writers are serialized.
func (c *Client) Send(ctx context.Context, msg tabledto.Message) error {
	c.connM.RLock()
	conn := c.conn
	c.connM.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

func (c *Client) State() State {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.state
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var msg tabledto.Message
		if err := wsjson.Read(c.rootCtx, conn, &msg); err != nil {
			if c.isStopping() {
				return
			}
			obslog.L().Warn("mirror_read_failed", zap.Error(err))
			if c.detach(conn, websocket.StatusGoingAway, "reconnect") {
				c.setState(StateDisconnected)
				c.scheduleReconnect()
			}
			return
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rootCtx.Done():
			return
		case <-t.C:
			if !c.current(conn) {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if c.isStopping() {
					return
				}
				// closing the conn fails the pending read, which reconnects
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Client) scheduleReconnect() {
	if c.opts.MaxReconnectAttempts <= 0 {
		c.setState(StateFailed)
		return
	}
	c.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := c.dial(c.rootCtx)
			if err != nil {
				obslog.L().Debug("mirror_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			c.attach(conn)
			return
		}
		c.setState(StateFailed)
	}()
}

func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.connM.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.rootCancel()
		c.setState(StateDisconnected)
		return nil
	}
}

// detach clears conn if it is still current and reports whether it was.
func (c *Client) detach(conn *websocket.Conn, code websocket.StatusCode, reason string) bool {
	c.connM.Lock()
	owned := c.conn == conn
	if owned {
		c.conn = nil
	}
	c.connM.Unlock()
	_ = conn.Close(code, reason)
	return owned
}

func (c *Client) current(conn *websocket.Conn) bool {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.conn == conn
}

func (c *Client) setState(s State) {
	c.connM.Lock()
	c.state = s
	c.connM.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}
