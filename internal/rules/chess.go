package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ChessOracle is the Oracle backed by corentings/chess. It is stateless; every
// call replays the position's history from Base.
type ChessOracle struct{}

func NewChessOracle() *ChessOracle { return &ChessOracle{} }

func (o *ChessOracle) Apply(pos Position, req MoveRequest) (Applied, error) {
	from, to, promo, err := normalize(req)
	if err != nil {
		return Applied{}, err
	}
	game, _, err := replay(pos)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrMalformedMove, err)
	}
	before := game.Position()
	mover := sideFrom(before.Turn())

	// the promotion piece only matters on the last rank
	candidates := []string{from + to}
	if to[1] == '1' || to[1] == '8' {
		candidates = []string{from + to + promo, from + to}
	}
	var pushErr error
	for _, uci := range candidates {
		if pushErr = game.PushNotationMove(uci, nchess.UCINotation{}, nil); pushErr == nil {
			break
		}
	}
	if pushErr != nil {
		return Applied{}, ErrIllegalMove
	}
	last := lastMove(game)
	if last == nil {
		return Applied{}, ErrIllegalMove
	}

	next := Position{
		FEN:   game.FEN(),
		Base:  pos.Base,
		Moves: append(append([]string(nil), pos.Moves...), last.String()),
	}
	if next.Base == "" {
		next.Base = StartFEN
	}
	// No position before an irreversible move can recur, so history restarts
	// at the position preceding it. The move itself is kept so that replaying
	// always ends with a pushed move.
	if halfmoveClock(next.FEN) == "0" {
		next.Base = before.String()
		next.Moves = []string{last.String()}
	}

	return Applied{
		Position: next,
		UCI:      last.String(),
		SAN:      nchess.AlgebraicNotation{}.Encode(before, last),
		Mover:    mover,
	}, nil
}

func (o *ChessOracle) Classify(pos Position) Terminal {
	game, history, err := replay(pos)
	if err != nil {
		return None
	}
	switch game.Method() {
	case nchess.Checkmate:
		return Checkmate
	case nchess.Stalemate:
		return Stalemate
	case nchess.InsufficientMaterial:
		return InsufficientMaterial
	}
	// repetition and the move clock end the game here without a claim
	if repetitions(history) >= 3 {
		return ThreefoldRepetition
	}
	if n, err := strconv.Atoi(halfmoveClock(game.FEN())); err == nil && n >= 100 {
		return OtherDraw
	}
	if game.Outcome() == nchess.Draw {
		return OtherDraw
	}
	return None
}

func (o *ChessOracle) Turn(pos Position) Side {
	fields := strings.Fields(pos.FEN)
	if len(fields) > 1 && fields[1] == "b" {
		return Black
	}
	return White
}

func normalize(req MoveRequest) (from, to, promo string, err error) {
	from = strings.ToLower(strings.TrimSpace(req.From))
	to = strings.ToLower(strings.TrimSpace(req.To))
	if !validSquare(from) || !validSquare(to) || from == to {
		return "", "", "", ErrMalformedMove
	}
	promo = strings.ToLower(strings.TrimSpace(req.Promotion))
	if promo == "" {
		promo = DefaultPromotion
	}
	switch promo {
	case "q", "r", "b", "n":
	default:
		return "", "", "", ErrMalformedMove
	}
	return from, to, promo, nil
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// replay rebuilds the game from Base and returns it with the repetition key of
// every position reached, Base included.
func replay(pos Position) (*nchess.Game, []string, error) {
	base := strings.TrimSpace(pos.Base)
	if base == "" {
		base = strings.TrimSpace(pos.FEN)
	}
	if base == "" {
		base = StartFEN
	}
	opt, err := nchess.FEN(base)
	if err != nil {
		return nil, nil, fmt.Errorf("parse fen: %w", err)
	}
	game := nchess.NewGame(opt)
	history := make([]string, 0, len(pos.Moves)+1)
	history = append(history, repetitionKey(game.Position()))
	for _, mv := range pos.Moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, nil, fmt.Errorf("replay %s: %w", mv, err)
		}
		history = append(history, repetitionKey(game.Position()))
	}
	return game, history, nil
}

// repetitions counts how often the last key occurs in history.
func repetitions(history []string) int {
	if len(history) == 0 {
		return 0
	}
	current := history[len(history)-1]
	count := 0
	for _, key := range history {
		if key == current {
			count++
		}
	}
	return count
}

// repetitionKey is placement, side to move, castling rights and en-passant
// square. The en-passant square only counts when a capture onto it is legal,
// since the FEN carries it after every double push.
func repetitionKey(pos *nchess.Position) string {
	fields := strings.Fields(pos.String())
	if len(fields) > 4 {
		fields = fields[:4]
	}
	if len(fields) == 4 && fields[3] != "-" && !canCaptureEnPassant(pos) {
		fields[3] = "-"
	}
	return strings.Join(fields, " ")
}

func canCaptureEnPassant(pos *nchess.Position) bool {
	moves := pos.ValidMoves()
	for i := range moves {
		if moves[i].HasTag(nchess.EnPassant) {
			return true
		}
	}
	return false
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func halfmoveClock(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return ""
	}
	return fields[4]
}

func sideFrom(c nchess.Color) Side {
	if c == nchess.White {
		return White
	}
	return Black
}
