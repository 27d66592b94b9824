// Package rules defines the rules-oracle capability the table depends on:
// move legality, resulting positions and terminal classification. The table
// never evaluates chess rules itself.
package rules

import (
	"errors"
	"strings"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

const DefaultPromotion = "q"

var (
	ErrMalformedMove = errors.New("malformed move request")
	ErrIllegalMove   = errors.New("illegal move")
)

type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

// MoveRequest is a source/destination pair with an optional promotion piece.
type MoveRequest struct {
	From      string
	To        string
	Promotion string
}

// Position is an immutable snapshot. FEN is canonical; Base and Moves carry
// just enough history (since the last irreversible move) to detect repetition.
type Position struct {
	FEN   string
	Base  string
	Moves []string
}

// Initial returns the standard starting position.
func Initial() Position {
	return Position{FEN: StartFEN, Base: StartFEN}
}

// FromFEN returns a position with no history.
func FromFEN(fen string) Position {
	fen = strings.TrimSpace(fen)
	return Position{FEN: fen, Base: fen}
}

// Applied is the outcome of an accepted move.
type Applied struct {
	Position Position
	UCI      string
	SAN      string
	Mover    Side
}

// Terminal classifies a finished game.
type Terminal string

const (
	None                 Terminal = "none"
	Checkmate            Terminal = "checkmate"
	Stalemate            Terminal = "stalemate"
	InsufficientMaterial Terminal = "insufficient-material"
	ThreefoldRepetition  Terminal = "threefold-repetition"
	OtherDraw            Terminal = "other-draw"
)

func (t Terminal) Over() bool { return t != "" && t != None }

// Oracle validates moves and classifies positions. Implementations must not
// mutate the positions they are given.
type Oracle interface {
	Apply(pos Position, req MoveRequest) (Applied, error)
	Classify(pos Position) Terminal
	Turn(pos Position) Side
}

// Winner returns the side that delivered mate in pos, which is always the
// side not to move.
func Winner(o Oracle, pos Position) Side {
	return o.Turn(pos).Opponent()
}
