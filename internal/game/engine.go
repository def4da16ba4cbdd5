package game

// Move is a candidate placement handed to a MovePolicy before it is applied.
type Move struct {
	Row       int
	Col       int
	Color     Color
	MoveCount int // moves already played in the room
}

// BoardView is the read-only side of a Board.
type BoardView interface {
	Get(r, c int) (Color, error)
}

// MovePolicy is an optional extra legality check run after the built-in
// turn and occupancy checks. A non-nil error rejects the move; its text is
// reported to the player.
//
// The engine itself enforces neither suicide nor ko.
type MovePolicy interface {
	CheckMove(m Move, board BoardView) error
}
