package termview

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/park285/chess-table/internal/mirror"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

func TestBoard_Orientation(t *testing.T) {
	white := strings.Split(strings.TrimRight(Board(rules.StartFEN, false), "\n"), "\n")
	if len(white) != 9 {
		t.Fatalf("got %d lines", len(white))
	}
	if !strings.HasPrefix(white[0], "8 ") || !strings.HasPrefix(white[7], "1 ") {
		t.Fatalf("white view ranks: %q .. %q", white[0], white[7])
	}
	if white[8] != "  a b c d e f g h " {
		t.Fatalf("white files = %q", white[8])
	}
	if white[4] != "4 . . . . . . . . " {
		t.Fatalf("empty rank = %q", white[4])
	}

	black := strings.Split(strings.TrimRight(Board(rules.StartFEN, true), "\n"), "\n")
	if !strings.HasPrefix(black[0], "1 ") || black[8] != "  h g f e d c b a " {
		t.Fatalf("black view = %q .. %q", black[0], black[8])
	}
}

func TestBoard_PieceMoves(t *testing.T) {
	after := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	lines := strings.Split(Board(after, false), "\n")
	if strings.Count(lines[4], ".") != 7 {
		t.Fatalf("rank 4 should hold one piece: %q", lines[4])
	}
	if strings.Count(lines[6], ".") != 1 {
		t.Fatalf("rank 2 should have one empty square: %q", lines[6])
	}
}

func TestBoard_BadFEN(t *testing.T) {
	out := Board("not a fen", false)
	if strings.Count(out, ".") != 64 {
		t.Fatalf("bad fen should render empty board:\n%s", out)
	}
}

func TestRender_StatusLines(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, nil)
	r.Render(mirror.View{Seat: tabledto.SeatFirst, Assigned: true, FEN: rules.StartFEN, YourTurn: true})
	out := buf.String()
	if !strings.Contains(out, "You play White.") || !strings.Contains(out, "Your move.") {
		t.Fatalf("frame:\n%s", out)
	}

	buf.Reset()
	r.Render(mirror.View{Assigned: true, FEN: rules.StartFEN, Locked: true, Result: "Black wins by checkmate!", LastSAN: "Qh4#"})
	out = buf.String()
	for _, want := range []string{"Both seats are taken.", "Black wins by checkmate!", "last: Qh4#"} {
		if !strings.Contains(out, want) {
			t.Fatalf("frame missing %q:\n%s", want, out)
		}
	}
}

func TestNotice(t *testing.T) {
	r := New(&bytes.Buffer{}, nil)
	if got := r.Notice(fmt.Errorf("%w: bad", mirror.ErrIllegalMove)); got != "That move is illegal." {
		t.Fatalf("illegal notice = %q", got)
	}
	if got := r.Notice(mirror.ErrNotYourTurn); got != "It's not your turn." {
		t.Fatalf("turn notice = %q", got)
	}
	if got := r.Notice(nil); got != "" {
		t.Fatalf("nil notice = %q", got)
	}
}
