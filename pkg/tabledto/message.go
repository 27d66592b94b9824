package tabledto

// Seat identifies one of the two exclusive move-authority roles.
type Seat string

const (
	SeatNone   Seat = ""
	SeatFirst  Seat = "first-mover"
	SeatSecond Seat = "second-mover"
)

// Message types exchanged between the coordinator and a connection.
const (
	TypeRoleAssigned = "role-assigned"
	TypeSpectator    = "spectator"
	TypeMoveRejected = "move-rejected"
	TypeMoveApplied  = "move-applied"
	TypeBoardState   = "board-state"
	TypeGameOver     = "game-over"
	TypeReset        = "reset"
	TypeMoveRequest  = "move-request"
)

// Rejection codes carried next to the human-readable reason.
const (
	CodeNotYourTurn = "not-your-turn"
	CodeInvalidMove = "invalid-move"
	CodeGameOver    = "game-over"
)

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Message is the single JSON frame used in both directions. Only the fields
// relevant to Type are populated.
type Message struct {
	Type     string `json:"type"`
	Seat     Seat   `json:"seat,omitempty"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Move     *Move  `json:"move,omitempty"`
	SAN      string `json:"san,omitempty"`
	FEN      string `json:"fen,omitempty"`
	Result   string `json:"result,omitempty"`
	Terminal string `json:"terminal,omitempty"`
}

func RoleAssigned(seat Seat) Message { return Message{Type: TypeRoleAssigned, Seat: seat} }

func Spectator() Message { return Message{Type: TypeSpectator} }

func MoveRejected(code, reason string) Message {
	return Message{Type: TypeMoveRejected, Code: code, Reason: reason}
}

func BoardState(fen string) Message { return Message{Type: TypeBoardState, FEN: fen} }

func Reset() Message { return Message{Type: TypeReset} }

func MoveRequest(from, to, promotion string) Message {
	return Message{Type: TypeMoveRequest, Move: &Move{From: from, To: to, Promotion: promotion}}
}

func MoveApplied(move Move, san, fen string) Message {
	return Message{Type: TypeMoveApplied, Move: &move, SAN: san, FEN: fen}
}

func GameOver(result, terminal string) Message {
	return Message{Type: TypeGameOver, Result: result, Terminal: terminal}
}
