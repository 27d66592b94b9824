package tabledto

// Snapshot is the read-only view of the table served to operators and
// mirrored to external observers.
type Snapshot struct {
	FEN         string   `json:"fen"`
	Turn        Seat     `json:"turn"`
	FirstMover  string   `json:"first_mover,omitempty"`
	SecondMover string   `json:"second_mover,omitempty"`
	Connections int      `json:"connections"`
	Spectators  int      `json:"spectators"`
	MovesUCI    []string `json:"moves_uci"`
	MovesSAN    []string `json:"moves_san"`
	Frozen      bool     `json:"frozen"`
	Terminal    string   `json:"terminal,omitempty"`
	Result      string   `json:"result,omitempty"`
}
