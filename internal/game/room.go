package game

import (
	"sync"
	"time"
)

// State is the lifecycle stage of a room.
type State int

const (
	AwaitingSecondSeat State = iota
	InProgress
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingSecondSeat:
		return "awaiting_second_seat"
	case InProgress:
		return "in_progress"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const maxSeats = 2

// Seat binds a participant to a color and to the handle that reaches them.
type Seat struct {
	ParticipantID string
	Color         Color
	Peer          Peer
}

// SeatResult describes a successful create or join.
type SeatResult struct {
	RoomID        string
	ParticipantID string
	Color         Color
}

// MoveResult describes an accepted move.
type MoveResult struct {
	Row       int
	Col       int
	Color     Color
	NextTurn  Color
	Captured  []Point
	MoveCount int
}

// Snapshot is a point-in-time copy of a room for logs and tests.
type Snapshot struct {
	ID        string
	State     State
	Seats     map[string]Color
	Turn      Color
	MoveCount int
	CreatedAt time.Time
	Board     string
}

// Room is one match. Every mutation holds mu for its whole
// validate-then-apply sequence; delivery to peers happens after release.
type Room struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	board     *Board
	seats     map[string]*Seat
	assigned  map[Color]bool // colors ever handed out in this room
	turn      Color
	moveCount int
	state     State
	policy    MovePolicy
}

// NewRoom returns an empty room with black to move. policy may be nil.
func NewRoom(id string, createdAt time.Time, policy MovePolicy) *Room {
	return &Room{
		id:        id,
		createdAt: createdAt,
		board:     NewBoard(),
		seats:     make(map[string]*Seat, maxSeats),
		assigned:  make(map[Color]bool, maxSeats),
		turn:      Black,
		state:     AwaitingSecondSeat,
		policy:    policy,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Seat places participantID in the room. The first seat is black, the
// second white. A color is handed out at most once per room, so a room
// that lost a player cannot be refilled.
func (r *Room) Seat(participantID string, peer Peer) (SeatResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Closed {
		return SeatResult{}, ErrRoomNotFound
	}
	if len(r.seats) >= maxSeats {
		return SeatResult{}, ErrRoomFull
	}

	var color Color
	switch {
	case !r.assigned[Black]:
		color = Black
	case !r.assigned[White]:
		color = White
	default:
		return SeatResult{}, ErrRoomFull
	}

	r.assigned[color] = true
	r.seats[participantID] = &Seat{ParticipantID: participantID, Color: color, Peer: peer}
	if len(r.seats) == maxSeats {
		r.state = InProgress
	}
	return SeatResult{RoomID: r.id, ParticipantID: participantID, Color: color}, nil
}

// PlaceStone validates and applies a move by participantID. On success it
// also returns the peers of every seat, for the caller to broadcast to once
// the room lock has been released.
func (r *Room) PlaceStone(participantID string, row, col int) (MoveResult, []Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seat, ok := r.seats[participantID]
	if !ok || r.state == Closed {
		return MoveResult{}, nil, ErrUnknownRoomOrParticipant
	}
	if seat.Color != r.turn {
		return MoveResult{}, nil, ErrOutOfTurn
	}
	cell, err := r.board.Get(row, col)
	if err != nil {
		return MoveResult{}, nil, err
	}
	if cell != Empty {
		return MoveResult{}, nil, ErrCellOccupied
	}
	if r.policy != nil {
		m := Move{Row: row, Col: col, Color: seat.Color, MoveCount: r.moveCount}
		if err := r.policy.CheckMove(m, r.board); err != nil {
			return MoveResult{}, nil, WrapError(CodeRuleViolation, err.Error(), err)
		}
	}

	r.board.Set(row, col, seat.Color)
	r.moveCount++
	captured := ResolveCaptures(r.board, row, col, seat.Color)
	r.turn = seat.Color.Opposite()

	peers := make([]Peer, 0, len(r.seats))
	for _, s := range r.seats {
		peers = append(peers, s.Peer)
	}
	return MoveResult{
		Row:       row,
		Col:       col,
		Color:     seat.Color,
		NextTurn:  r.turn,
		Captured:  captured,
		MoveCount: r.moveCount,
	}, peers, nil
}

// Vacate removes participantID's seat and reports whether this call closed
// the room. Unknown participants and closed rooms are a no-op.
func (r *Room) Vacate(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Closed {
		return false
	}
	if _, ok := r.seats[participantID]; !ok {
		return false
	}
	delete(r.seats, participantID)
	if len(r.seats) == 0 {
		r.state = Closed
		return true
	}
	return false
}

// Snapshot copies the observable room state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	seats := make(map[string]Color, len(r.seats))
	for id, s := range r.seats {
		seats[id] = s.Color
	}
	return Snapshot{
		ID:        r.id,
		State:     r.state,
		Seats:     seats,
		Turn:      r.turn,
		MoveCount: r.moveCount,
		CreatedAt: r.createdAt,
		Board:     r.board.String(),
	}
}
