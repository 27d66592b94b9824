// Package mirror keeps a client's local, non-authoritative copy of the table.
// The copy exists only to render and to pre-check gestures; every message from
// the coordinator overrides it.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

// Local gesture rejections; none of them reach the coordinator.
var (
	ErrSpectator   = errors.New("mirror: spectators cannot move")
	ErrLocked      = errors.New("mirror: game is over")
	ErrNotYourTurn = errors.New("mirror: not your turn")
	ErrIllegalMove = errors.New("mirror: illegal move")
)

// Outbound carries move requests to the coordinator.
type Outbound interface {
	Send(ctx context.Context, msg tabledto.Message) error
}

type Renderer interface {
	Render(v View)
}

// View is what a renderer needs to draw one frame.
type View struct {
	Seat     tabledto.Seat
	Assigned bool
	FEN      string
	Turn     rules.Side
	YourTurn bool
	Locked   bool
	Result   string
	LastMove *tabledto.Move
	LastSAN  string
	// Notice is the latest server rejection or reset note, cleared on the next move.
	Notice string
}

type Mirror struct {
	oracle rules.Oracle
	out    Outbound
	render Renderer

	mu       sync.Mutex
	seat     tabledto.Seat
	assigned bool
	pos      rules.Position
	locked   bool
	result   string
	lastMove *tabledto.Move
	lastSAN  string
	notice   string
}

func New(oracle rules.Oracle, out Outbound, render Renderer) *Mirror {
	if oracle == nil {
		oracle = rules.NewChessOracle()
	}
	return &Mirror{oracle: oracle, out: out, render: render, pos: rules.Initial()}
}

// Dispatch routes one coordinator message to its handler. Unknown types are ignored.
func (m *Mirror) Dispatch(msg tabledto.Message) {
	switch msg.Type {
	case tabledto.TypeRoleAssigned:
		m.OnRoleAssigned(msg.Seat)
	case tabledto.TypeSpectator:
		m.OnSpectator()
	case tabledto.TypeBoardState:
		m.OnAuthoritativeState(msg.FEN)
	case tabledto.TypeMoveApplied:
		m.OnMoveBroadcast(msg)
	case tabledto.TypeMoveRejected:
		m.OnRejected(msg.Code, msg.Reason)
	case tabledto.TypeGameOver:
		m.OnGameOver(msg.Result)
	case tabledto.TypeReset:
		m.OnReset()
	default:
		obslog.L().Debug("mirror_unknown_message", zap.String("type", msg.Type))
	}
}

func (m *Mirror) OnRoleAssigned(seat tabledto.Seat) {
	m.update(func() {
		m.seat = seat
		m.assigned = true
	})
}

func (m *Mirror) OnSpectator() {
	m.update(func() {
		m.seat = tabledto.SeatNone
		m.assigned = true
	})
}

// OnAuthoritativeState replaces the local position wholesale.
func (m *Mirror) OnAuthoritativeState(fen string) {
	if fen == "" {
		return
	}
	m.update(func() { m.pos = rules.FromFEN(fen) })
}

// OnMoveBroadcast replays the move locally and keeps the result only when it
// matches the broadcast position; otherwise the broadcast wins.
func (m *Mirror) OnMoveBroadcast(msg tabledto.Message) {
	m.update(func() {
		m.notice = ""
		m.lastSAN = msg.SAN
		m.lastMove = nil
		if msg.Move != nil {
			mv := *msg.Move
			m.lastMove = &mv
			res, err := m.oracle.Apply(m.pos, rules.MoveRequest{From: mv.From, To: mv.To, Promotion: mv.Promotion})
			if err == nil && (msg.FEN == "" || res.Position.FEN == msg.FEN) {
				m.pos = res.Position
				return
			}
			obslog.L().Debug("mirror_resync", zap.String("fen", msg.FEN), zap.Error(err))
		}
		if msg.FEN != "" {
			m.pos = rules.FromFEN(msg.FEN)
		}
	})
}

func (m *Mirror) OnRejected(code, reason string) {
	m.update(func() {
		m.notice = reason
		if m.notice == "" {
			m.notice = code
		}
	})
}

func (m *Mirror) OnGameOver(result string) {
	m.update(func() {
		m.locked = true
		m.result = result
	})
}

// OnReset clears the board and unlocks gestures. The coordinator vacates every
// seat on reset, so the local seat is dropped as well.
func (m *Mirror) OnReset() {
	m.update(func() {
		m.pos = rules.Initial()
		m.locked = false
		m.result = ""
		m.seat = tabledto.SeatNone
		m.assigned = false
		m.lastMove = nil
		m.lastSAN = ""
		m.notice = ""
	})
}

// Gesture validates a move against the local copy and sends it if legal.
// The promotion piece defaults to a queen.
func (m *Mirror) Gesture(ctx context.Context, from, to string) error {
	return m.GestureWithPromotion(ctx, from, to, rules.DefaultPromotion)
}

func (m *Mirror) GestureWithPromotion(ctx context.Context, from, to, promotion string) error {
	if promotion == "" {
		promotion = rules.DefaultPromotion
	}
	req := rules.MoveRequest{From: from, To: to, Promotion: promotion}

	m.mu.Lock()
	err := m.precheck(req)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.out == nil {
		return errors.New("mirror: no outbound transport")
	}
	if err := m.out.Send(ctx, tabledto.MoveRequest(req.From, req.To, req.Promotion)); err != nil {
		return fmt.Errorf("send move request: %w", err)
	}
	return nil
}

// precheck applies req tentatively. Apply is pure, so nothing has to be undone.
func (m *Mirror) precheck(req rules.MoveRequest) error {
	if m.locked {
		return ErrLocked
	}
	side, ok := sideOf(m.seat)
	if !ok {
		return ErrSpectator
	}
	if m.oracle.Turn(m.pos) != side {
		return ErrNotYourTurn
	}
	if _, err := m.oracle.Apply(m.pos, req); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return nil
}

func (m *Mirror) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Mirror) update(fn func()) {
	m.mu.Lock()
	fn()
	v := m.viewLocked()
	m.mu.Unlock()
	if m.render != nil {
		m.render.Render(v)
	}
}

func (m *Mirror) viewLocked() View {
	turn := m.oracle.Turn(m.pos)
	side, seated := sideOf(m.seat)
	v := View{
		Seat:     m.seat,
		Assigned: m.assigned,
		FEN:      m.pos.FEN,
		Turn:     turn,
		YourTurn: seated && side == turn && !m.locked,
		Locked:   m.locked,
		Result:   m.result,
		LastSAN:  m.lastSAN,
		Notice:   m.notice,
	}
	if m.lastMove != nil {
		mv := *m.lastMove
		v.LastMove = &mv
	}
	return v
}

func sideOf(seat tabledto.Seat) (rules.Side, bool) {
	switch seat {
	case tabledto.SeatFirst:
		return rules.White, true
	case tabledto.SeatSecond:
		return rules.Black, true
	default:
		return "", false
	}
}
