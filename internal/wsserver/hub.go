// Package wsserver is the websocket transport in front of the table
// coordinator. It owns connections and framing; every table decision is made
// by the coordinator.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-table/internal/msgcat"
	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

// Table is the event sink the hub feeds.
type Table interface {
	Connect(ctx context.Context, connID string) error
	Disconnect(ctx context.Context, connID string) error
	SubmitMove(ctx context.Context, connID string, req rules.MoveRequest) error
}

type Options struct {
	// AllowedOrigins are host patterns accepted in addition to the request host.
	AllowedOrigins []string
	PingInterval   time.Duration
	SendBuffer     int
	RateBurst      int
	RateInterval   time.Duration
	ReadLimit      int64
	// Catalog renders the notice sent for throttled frames. Nil uses the
	// embedded catalog.
	Catalog *msgcat.Catalog
}

func (o Options) sanitize() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 8
	}
	if o.RateInterval <= 0 {
		o.RateInterval = 250 * time.Millisecond
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.Catalog == nil {
		o.Catalog = msgcat.Default()
	}
	return o
}

type Hub struct {
	opts  Options
	table Table

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	id      string
	ws      *websocket.Conn
	send    chan tabledto.Message
	limiter *rate.Limiter
}

func NewHub(opts Options) *Hub {
	return &Hub{opts: opts.sanitize(), conns: make(map[string]*conn)}
}

// newLimiter allows burst frames at once, refilled evenly over interval.
func newLimiter(burst int, interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst)
}

// Attach sets the table the hub reports to. It must be called before serving.
func (h *Hub) Attach(t Table) { h.table = t }

// Send queues msg for connID without blocking. Unknown ids and full buffers drop.
func (h *Hub) Send(connID string, msg tabledto.Message) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		obslog.L().Warn("ws_send_dropped",
			zap.String("conn_id", connID),
			zap.String("type", msg.Type),
		)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll tells every client the server is going away.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.table == nil {
		http.Error(w, "table not ready", http.StatusServiceUnavailable)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed",
			zap.String("remote", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)

	c := &conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan tabledto.Message, h.opts.SendBuffer),
		limiter: newLimiter(h.opts.RateBurst, h.opts.RateInterval),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.register(c)
	obslog.L().Info("ws_open", zap.String("conn_id", c.id), zap.String("remote", r.RemoteAddr))
	if err := h.table.Connect(ctx, c.id); err != nil {
		h.unregister(c.id)
		obslog.L().Warn("ws_table_unavailable", zap.String("conn_id", c.id), zap.Error(err))
		_ = ws.Close(websocket.StatusTryAgainLater, "table unavailable")
		return
	}

	go h.writeLoop(ctx, cancel, c)
	reason := h.readLoop(ctx, c)
	cancel()

	h.unregister(c.id)
	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := h.table.Disconnect(dctx, c.id); err != nil {
		obslog.L().Warn("ws_disconnect_not_delivered", zap.String("conn_id", c.id), zap.Error(err))
	}
	dcancel()
	obslog.L().Info("ws_close", zap.String("conn_id", c.id), zap.String("reason", reason))
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// readLoop forwards move requests until the connection fails. Throttled
// frames never reach the table; the sender gets a private rejection.
func (h *Hub) readLoop(ctx context.Context, c *conn) string {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return status.String()
			}
			if errors.Is(err, context.Canceled) {
				return "cancelled"
			}
			return err.Error()
		}
		if !c.limiter.Allow() {
			obslog.L().Warn("ws_rate_limited", zap.String("conn_id", c.id))
			h.Send(c.id, tabledto.MoveRejected(tabledto.CodeInvalidMove,
				h.opts.Catalog.Text("table.reject.rate_limited", nil)))
			continue
		}

		req := decodeMoveRequest(data)
		if err := h.table.SubmitMove(ctx, c.id, req); err != nil {
			return "table unavailable"
		}
	}
}

// decodeMoveRequest returns the request carried by a frame. Anything that is
// not a move request with a move yields an empty request, which the table
// rejects as invalid.
func decodeMoveRequest(data []byte) rules.MoveRequest {
	var msg tabledto.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return rules.MoveRequest{}
	}
	if msg.Type != tabledto.TypeMoveRequest || msg.Move == nil {
		return rules.MoveRequest{}
	}
	return rules.MoveRequest{From: msg.Move.From, To: msg.Move.To, Promotion: msg.Move.Promotion}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *conn) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c.ws, msg)
			wcancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
				cancel()
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.ws.Ping(pctx)
			pcancel()
			if err != nil {
				obslog.L().Debug("ws_ping_failed", zap.String("conn_id", c.id), zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}
