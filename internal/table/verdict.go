package table

import (
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/pkg/tabledto"
)

// Rejection is the tagged reason a move request was refused.
type Rejection string

const (
	RejectNone        Rejection = ""
	RejectNotYourTurn Rejection = tabledto.CodeNotYourTurn
	RejectInvalidMove Rejection = tabledto.CodeInvalidMove
	RejectGameOver    Rejection = tabledto.CodeGameOver
)

// Verdict is the outcome of validating one move request. It is computed
// without touching coordinator state.
type Verdict struct {
	Accepted bool
	Reason   Rejection
	Applied  rules.Applied
	Terminal rules.Terminal
	Result   string
}

func (c *Coordinator) decide(connID string, req rules.MoveRequest) Verdict {
	if c.frozen {
		return Verdict{Reason: RejectGameOver}
	}
	holder := c.seats[seatIndex(c.oracle.Turn(c.pos))]
	if holder == "" || holder != connID {
		return Verdict{Reason: RejectNotYourTurn}
	}
	applied, err := c.oracle.Apply(c.pos, req)
	if err != nil {
		// malformed and illegal requests are answered the same way
		return Verdict{Reason: RejectInvalidMove}
	}
	term := c.oracle.Classify(applied.Position)
	v := Verdict{Accepted: true, Applied: applied, Terminal: term}
	if term.Over() {
		v.Result = c.resultText(term, applied.Position)
	}
	return v
}

// resultText renders exactly one result line; unknown terminals fall through
// to the generic draw.
func (c *Coordinator) resultText(term rules.Terminal, pos rules.Position) string {
	switch term {
	case rules.Checkmate:
		winner := c.cat.Text("table.side."+string(rules.Winner(c.oracle, pos)), nil)
		return c.cat.Text("table.result.checkmate", map[string]string{"Winner": winner})
	case rules.Stalemate:
		return c.cat.Text("table.result.stalemate", nil)
	case rules.InsufficientMaterial:
		return c.cat.Text("table.result.insufficient_material", nil)
	case rules.ThreefoldRepetition:
		return c.cat.Text("table.result.threefold_repetition", nil)
	default:
		return c.cat.Text("table.result.draw", nil)
	}
}

func (c *Coordinator) rejectText(r Rejection) string {
	switch r {
	case RejectNotYourTurn:
		return c.cat.Text("table.reject.not_your_turn", nil)
	case RejectGameOver:
		return c.cat.Text("table.reject.game_over", nil)
	default:
		return c.cat.Text("table.reject.invalid_move", nil)
	}
}
