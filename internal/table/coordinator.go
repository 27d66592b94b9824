// Package table owns the single authoritative game: the seat table, the
// position, turn authority and the game-over freeze. All of that state is
// touched only by the goroutine running Coordinator.Run; transports talk to it
// by enqueuing events.
package table

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/chess-table/internal/msgcat"
	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

var ErrStopped = errors.New("table: coordinator stopped")

// Sender delivers one message to one connection. Delivery is fire-and-forget:
// implementations must not block and may drop.
type Sender interface {
	Send(connID string, msg tabledto.Message)
}

// Publisher observes every broadcast and the snapshot after each event that
// changed the table. It is optional.
type Publisher interface {
	Broadcast(msg tabledto.Message)
	Snapshot(s tabledto.Snapshot)
}

type Options struct {
	Oracle    rules.Oracle
	Sender    Sender
	Publisher Publisher
	Catalog   *msgcat.Catalog
	QueueSize int
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evMove
	evReset
	evSnapshot
)

type event struct {
	kind   eventKind
	connID string
	req    rules.MoveRequest
	reply  chan tabledto.Snapshot
}

type Coordinator struct {
	oracle rules.Oracle
	sender Sender
	pub    Publisher
	cat    *msgcat.Catalog

	events chan event
	done   chan struct{}

	// owned by Run
	pos      rules.Position
	seats    [2]string
	conns    []string
	movesUCI []string
	movesSAN []string
	frozen   bool
	terminal rules.Terminal
	result   string
}

func NewCoordinator(opts Options) *Coordinator {
	oracle := opts.Oracle
	if oracle == nil {
		oracle = rules.NewChessOracle()
	}
	cat := opts.Catalog
	if cat == nil {
		cat = msgcat.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Coordinator{
		oracle:   oracle,
		sender:   opts.Sender,
		pub:      opts.Publisher,
		cat:      cat,
		events:   make(chan event, size),
		done:     make(chan struct{}),
		pos:      rules.Initial(),
		terminal: rules.None,
	}
}

// Run processes events one at a time until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	obslog.L().Info("table_start", zap.String("fen", c.pos.FEN))
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("table_stop", zap.Int("connections", len(c.conns)))
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) Connect(ctx context.Context, connID string) error {
	return c.enqueue(ctx, event{kind: evConnect, connID: connID})
}

// Disconnect never fails once Run has stopped; there is nothing left to vacate.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	err := c.enqueue(ctx, event{kind: evDisconnect, connID: connID})
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

func (c *Coordinator) SubmitMove(ctx context.Context, connID string, req rules.MoveRequest) error {
	return c.enqueue(ctx, event{kind: evMove, connID: connID, req: req})
}

// Reset restores the initial position, vacates both seats and lifts the
// game-over freeze. It returns the snapshot taken right after the reset.
func (c *Coordinator) Reset(ctx context.Context) (tabledto.Snapshot, error) {
	return c.request(ctx, evReset)
}

func (c *Coordinator) Snapshot(ctx context.Context) (tabledto.Snapshot, error) {
	return c.request(ctx, evSnapshot)
}

func (c *Coordinator) request(ctx context.Context, kind eventKind) (tabledto.Snapshot, error) {
	reply := make(chan tabledto.Snapshot, 1)
	if err := c.enqueue(ctx, event{kind: kind, reply: reply}); err != nil {
		return tabledto.Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return tabledto.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return tabledto.Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) enqueue(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev.kind {
	case evConnect:
		c.onConnect(ev.connID)
	case evDisconnect:
		c.onDisconnect(ev.connID)
	case evMove:
		c.onMove(ev.connID, ev.req)
	case evReset:
		c.onReset()
		ev.reply <- c.snapshot()
	case evSnapshot:
		ev.reply <- c.snapshot()
	}
}

func (c *Coordinator) onConnect(connID string) {
	if connID == "" || c.connected(connID) {
		return
	}
	c.conns = append(c.conns, connID)

	seat := tabledto.SeatNone
	for i := range c.seats {
		if c.seats[i] == "" {
			c.seats[i] = connID
			seat = seatName(i)
			break
		}
	}
	if seat == tabledto.SeatNone {
		c.send(connID, tabledto.Spectator())
	} else {
		c.send(connID, tabledto.RoleAssigned(seat))
	}
	c.send(connID, tabledto.BoardState(c.pos.FEN))
	if c.frozen {
		c.send(connID, tabledto.GameOver(c.result, string(c.terminal)))
	}

	obslog.L().Info("table_connect",
		zap.String("conn_id", connID),
		zap.String("seat", string(seat)),
		zap.Int("connections", len(c.conns)),
	)
	c.publishSnapshot()
}

func (c *Coordinator) onDisconnect(connID string) {
	idx := -1
	for i, id := range c.conns {
		if id == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	c.conns = append(c.conns[:idx], c.conns[idx+1:]...)

	seat := tabledto.SeatNone
	for i := range c.seats {
		if c.seats[i] == connID {
			c.seats[i] = ""
			seat = seatName(i)
		}
	}
	obslog.L().Info("table_disconnect",
		zap.String("conn_id", connID),
		zap.String("vacated", string(seat)),
		zap.Int("connections", len(c.conns)),
	)
	c.publishSnapshot()
}

func (c *Coordinator) onMove(connID string, req rules.MoveRequest) {
	v := c.decide(connID, req)
	if !v.Accepted {
		obslog.L().Info("table_reject",
			zap.String("conn_id", connID),
			zap.String("code", string(v.Reason)),
			zap.String("from", req.From),
			zap.String("to", req.To),
		)
		c.send(connID, tabledto.MoveRejected(string(v.Reason), c.rejectText(v.Reason)))
		return
	}

	c.pos = v.Applied.Position
	c.movesUCI = append(c.movesUCI, v.Applied.UCI)
	c.movesSAN = append(c.movesSAN, v.Applied.SAN)
	obslog.L().Info("table_move",
		zap.String("conn_id", connID),
		zap.String("side", string(v.Applied.Mover)),
		zap.String("uci", v.Applied.UCI),
		zap.String("san", v.Applied.SAN),
		zap.String("fen", c.pos.FEN),
	)
	c.broadcast(tabledto.MoveApplied(moveOf(v.Applied.UCI), v.Applied.SAN, c.pos.FEN))

	if v.Terminal.Over() {
		c.frozen = true
		c.terminal = v.Terminal
		c.result = v.Result
		obslog.L().Info("table_game_over",
			zap.String("terminal", string(v.Terminal)),
			zap.String("result", v.Result),
			zap.Int("plies", len(c.movesUCI)),
		)
		c.broadcast(tabledto.GameOver(v.Result, string(v.Terminal)))
	}
	c.publishSnapshot()
}

func (c *Coordinator) onReset() {
	prev := c.seats
	c.pos = rules.Initial()
	c.seats = [2]string{}
	c.movesUCI = nil
	c.movesSAN = nil
	c.frozen = false
	c.terminal = rules.None
	c.result = ""
	obslog.L().Info("table_reset",
		zap.String("first_mover", prev[0]),
		zap.String("second_mover", prev[1]),
		zap.Int("connections", len(c.conns)),
	)
	c.broadcast(tabledto.Reset())
	c.broadcast(tabledto.BoardState(c.pos.FEN))
	c.publishSnapshot()
}

func (c *Coordinator) snapshot() tabledto.Snapshot {
	spectators := 0
	for _, id := range c.conns {
		if c.seatOf(id) == tabledto.SeatNone {
			spectators++
		}
	}
	turn := tabledto.SeatFirst
	if c.oracle.Turn(c.pos) == rules.Black {
		turn = tabledto.SeatSecond
	}
	s := tabledto.Snapshot{
		FEN:         c.pos.FEN,
		Turn:        turn,
		FirstMover:  c.seats[0],
		SecondMover: c.seats[1],
		Connections: len(c.conns),
		Spectators:  spectators,
		MovesUCI:    append([]string{}, c.movesUCI...),
		MovesSAN:    append([]string{}, c.movesSAN...),
		Frozen:      c.frozen,
		Result:      c.result,
	}
	if c.terminal.Over() {
		s.Terminal = string(c.terminal)
	}
	return s
}

func (c *Coordinator) send(connID string, msg tabledto.Message) {
	if c.sender != nil {
		c.sender.Send(connID, msg)
	}
}

// broadcast goes to every connection in connect order.
func (c *Coordinator) broadcast(msg tabledto.Message) {
	for _, id := range c.conns {
		c.send(id, msg)
	}
	if c.pub != nil {
		c.pub.Broadcast(msg)
	}
}

func (c *Coordinator) publishSnapshot() {
	if c.pub != nil {
		c.pub.Snapshot(c.snapshot())
	}
}

func (c *Coordinator) connected(connID string) bool {
	for _, id := range c.conns {
		if id == connID {
			return true
		}
	}
	return false
}

func (c *Coordinator) seatOf(connID string) tabledto.Seat {
	for i, id := range c.seats {
		if id != "" && id == connID {
			return seatName(i)
		}
	}
	return tabledto.SeatNone
}

func seatName(i int) tabledto.Seat {
	if i == 0 {
		return tabledto.SeatFirst
	}
	return tabledto.SeatSecond
}

func seatIndex(side rules.Side) int {
	if side == rules.White {
		return 0
	}
	return 1
}

func moveOf(uci string) tabledto.Move {
	if len(uci) < 4 {
		return tabledto.Move{}
	}
	m := tabledto.Move{From: uci[:2], To: uci[2:4]}
	if len(uci) == 5 {
		m.Promotion = uci[4:]
	}
	return m
}
