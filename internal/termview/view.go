// Package termview draws the mirror's view as plain text for the terminal client.
package termview

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-table/internal/mirror"
	"github.com/park285/chess-table/internal/msgcat"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

type Renderer struct {
	mu  sync.Mutex
	w   io.Writer
	cat *msgcat.Catalog
}

func New(w io.Writer, cat *msgcat.Catalog) *Renderer {
	if cat == nil {
		cat = msgcat.Default()
	}
	return &Renderer{w: w, cat: cat}
}

func (r *Renderer) Render(v mirror.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.w, r.Frame(v))
}

// Frame returns the text for one view: board, last move, then status lines.
func (r *Renderer) Frame(v mirror.View) string {
	var sb strings.Builder
	sb.WriteString(Board(v.FEN, v.Seat == tabledto.SeatSecond))
	if v.LastSAN != "" {
		fmt.Fprintf(&sb, "last: %s\n", v.LastSAN)
	}
	for _, line := range r.status(v) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String()
}

func (r *Renderer) status(v mirror.View) []string {
	var lines []string
	switch {
	case v.Seat != tabledto.SeatNone:
		lines = append(lines, r.cat.Text("mirror.role."+string(v.Seat), nil))
	case v.Assigned:
		lines = append(lines, r.cat.Text("mirror.role.spectator", nil))
	}
	if v.Notice != "" {
		lines = append(lines, v.Notice)
	}
	switch {
	case v.Locked:
		lines = append(lines, v.Result)
	case v.YourTurn:
		lines = append(lines, r.cat.Text("mirror.turn.yours", nil))
	case v.Seat != tabledto.SeatNone:
		lines = append(lines, r.cat.Text("mirror.turn.theirs", nil))
	}
	return lines
}

// Notice renders the message for a local gesture rejection.
func (r *Renderer) Notice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, mirror.ErrSpectator):
		return r.cat.Text("mirror.reject.spectator", nil)
	case errors.Is(err, mirror.ErrLocked):
		return r.cat.Text("mirror.reject.locked", nil)
	case errors.Is(err, mirror.ErrNotYourTurn):
		return r.cat.Text("mirror.reject.not_your_turn", nil)
	case errors.Is(err, mirror.ErrIllegalMove):
		return r.cat.Text("mirror.reject.illegal_move", nil)
	default:
		return err.Error()
	}
}

// Board draws fen as an 8x8 grid with file and rank labels. Black's view is
// flipped. An unparsable FEN yields an empty board.
func Board(fen string, flip bool) string {
	board := parseBoard(fen)
	ranks := []int{7, 6, 5, 4, 3, 2, 1, 0}
	files := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if flip {
		ranks = []int{0, 1, 2, 3, 4, 5, 6, 7}
		files = []int{7, 6, 5, 4, 3, 2, 1, 0}
	}

	var sb strings.Builder
	for _, rk := range ranks {
		fmt.Fprintf(&sb, "%d ", rk+1)
		for _, f := range files {
			sb.WriteString(glyph(board, f, rk))
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("  ")
	for _, f := range files {
		sb.WriteByte(byte('a' + f))
		sb.WriteByte(' ')
	}
	sb.WriteByte('\n')
	return sb.String()
}

func parseBoard(fen string) *nchess.Board {
	if strings.TrimSpace(fen) == "" {
		fen = rules.StartFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil
	}
	return nchess.NewGame(opt).Position().Board()
}

func glyph(b *nchess.Board, file, rank int) string {
	if b == nil {
		return "."
	}
	p := b.Piece(nchess.NewSquare(nchess.File(file), nchess.Rank(rank)))
	if p == nchess.NoPiece {
		return "."
	}
	return p.String()
}
