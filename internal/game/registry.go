package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/protocol"
)

const tracerName = "github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/game"

// Peer is the output handle of one connection. Implementations must be
// comparable (pointer types) since the registry indexes by them, and Send
// must not block on a slow reader.
type Peer interface {
	Send(ctx context.Context, msg protocol.Message) error
}

type registration struct {
	participantID string
	roomID        string
	color         Color
}

// Stats counts live state.
type Stats struct {
	Rooms         int
	Registrations int
}

// Registry owns every live room and the connection → seat index.
type Registry struct {
	mu            sync.Mutex
	rooms         map[string]*Room
	registrations map[Peer]registration
	joining       map[Peer]bool // true once the peer disconnected mid-join

	logger           *zap.Logger
	tracer           trace.Tracer
	policy           MovePolicy
	newRoomID        func() (string, error)
	newParticipantID func() string
	now              func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(g *Registry) { g.logger = l }
}

// WithTracerProvider sets where request spans go; the default is the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Registry) { g.tracer = tp.Tracer(tracerName) }
}

// WithMovePolicy installs an extra legality check for every room.
func WithMovePolicy(p MovePolicy) Option {
	return func(g *Registry) { g.policy = p }
}

// WithRoomIDGenerator replaces the random six digit room codes.
func WithRoomIDGenerator(fn func() (string, error)) Option {
	return func(g *Registry) { g.newRoomID = fn }
}

// WithParticipantIDGenerator replaces the uuid based player ids.
func WithParticipantIDGenerator(fn func() string) Option {
	return func(g *Registry) { g.newParticipantID = fn }
}

// WithClock replaces time.Now for room creation stamps.
func WithClock(now func() time.Time) Option {
	return func(g *Registry) { g.now = now }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	g := &Registry{
		rooms:            make(map[string]*Room),
		registrations:    make(map[Peer]registration),
		joining:          make(map[Peer]bool),
		logger:           zap.NewNop(),
		tracer:           otel.Tracer(tracerName),
		newRoomID:        randomRoomID,
		newParticipantID: newParticipantID,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateRoom opens a room under a fresh id and seats peer as black.
func (g *Registry) CreateRoom(peer Peer) (SeatResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isSeatedLocked(peer) {
		return SeatResult{}, ErrAlreadyInRoom
	}

	roomID, err := g.allocateRoomID()
	if err != nil {
		return SeatResult{}, err
	}

	room := NewRoom(roomID, g.now(), g.policy)
	seat, err := room.Seat(g.newParticipantID(), peer)
	if err != nil {
		return SeatResult{}, err
	}
	g.rooms[roomID] = room
	g.registrations[peer] = registration{participantID: seat.ParticipantID, roomID: roomID, color: seat.Color}

	g.logger.Info("room created",
		zap.String("room_id", roomID),
		zap.String("player_id", seat.ParticipantID),
		zap.Int("live_rooms", len(g.rooms)),
	)
	return seat, nil
}

// allocateRoomID must be called with mu held.
func (g *Registry) allocateRoomID() (string, error) {
	for attempt := 0; attempt < maxRoomIDAttempts; attempt++ {
		id, err := g.newRoomID()
		if err != nil {
			return "", WrapError(CodeInternal, ErrIDSpaceExhausted.Message, err)
		}
		if _, taken := g.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}

// JoinRoom seats peer in an existing room. The registry lock is not held
// while waiting on the room, which may be busy with a move.
func (g *Registry) JoinRoom(roomID string, peer Peer) (SeatResult, error) {
	g.mu.Lock()
	if g.isSeatedLocked(peer) {
		g.mu.Unlock()
		return SeatResult{}, ErrAlreadyInRoom
	}
	room, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return SeatResult{}, ErrRoomNotFound
	}
	participantID := g.newParticipantID()
	g.joining[peer] = false
	g.mu.Unlock()

	seat, err := room.Seat(participantID, peer)

	g.mu.Lock()
	gone := g.joining[peer]
	delete(g.joining, peer)
	if err == nil && !gone {
		g.registrations[peer] = registration{participantID: seat.ParticipantID, roomID: roomID, color: seat.Color}
	}
	g.mu.Unlock()

	if err != nil {
		return SeatResult{}, err
	}
	if gone {
		// Disconnected while waiting for the seat.
		g.vacate(room, seat.ParticipantID)
		return SeatResult{}, WrapError(CodeDeliveryFailure, ErrDeliveryFailure.Message, errors.New("peer disconnected during join"))
	}

	g.logger.Info("player joined",
		zap.String("room_id", roomID),
		zap.String("player_id", seat.ParticipantID),
		zap.Stringer("color", seat.Color),
	)
	return seat, nil
}

// isSeatedLocked must be called with mu held.
func (g *Registry) isSeatedLocked(peer Peer) bool {
	if _, ok := g.registrations[peer]; ok {
		return true
	}
	_, ok := g.joining[peer]
	return ok
}

// Route applies a place_stone request from peer to the room it is seated
// in. The registration decides room and player; ids in the request must
// match it.
func (g *Registry) Route(peer Peer, req protocol.PlaceStone) (MoveResult, []Peer, error) {
	g.mu.Lock()
	reg, ok := g.registrations[peer]
	var room *Room
	if ok {
		room = g.rooms[reg.roomID]
	}
	g.mu.Unlock()

	if !ok || room == nil {
		return MoveResult{}, nil, ErrNotInAnyRoom
	}
	if req.RoomID != reg.roomID || req.PlayerID != reg.participantID {
		return MoveResult{}, nil, ErrUnknownRoomOrParticipant
	}
	return room.PlaceStone(reg.participantID, req.Row, req.Col)
}

// OnDisconnect releases whatever peer held. Calling it again for the same
// peer does nothing.
func (g *Registry) OnDisconnect(peer Peer) {
	g.mu.Lock()
	reg, ok := g.registrations[peer]
	if !ok {
		if _, joining := g.joining[peer]; joining {
			g.joining[peer] = true
		}
		g.mu.Unlock()
		return
	}
	delete(g.registrations, peer)
	room := g.rooms[reg.roomID]
	g.mu.Unlock()

	if room == nil {
		return
	}
	g.logger.Info("player left",
		zap.String("room_id", reg.roomID),
		zap.String("player_id", reg.participantID),
		zap.Stringer("color", reg.color),
	)
	g.vacate(room, reg.participantID)
}

// vacate frees a seat outside the registry lock and drops the room once
// it is empty.
func (g *Registry) vacate(room *Room, participantID string) {
	if !room.Vacate(participantID) {
		return
	}
	g.mu.Lock()
	if g.rooms[room.ID()] == room {
		delete(g.rooms, room.ID())
	}
	live := len(g.rooms)
	g.mu.Unlock()
	g.logger.Info("room closed", zap.String("room_id", room.ID()), zap.Int("live_rooms", live))
}

// Lookup returns a live room.
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

// Stats reports live room and registration counts.
func (g *Registry) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Rooms: len(g.rooms), Registrations: len(g.registrations)}
}

// Handle serves one decoded request from peer and delivers every resulting
// message. Failures are answered to peer only.
func (g *Registry) Handle(ctx context.Context, peer Peer, req protocol.Request) {
	ctx, span := g.tracer.Start(ctx, "game."+requestName(req))
	defer span.End()

	var err error
	switch req := req.(type) {
	case protocol.CreateRoom:
		err = g.handleCreateRoom(ctx, peer, span)
	case protocol.JoinRoom:
		err = g.handleJoinRoom(ctx, peer, req, span)
	case protocol.PlaceStone:
		err = g.handlePlaceStone(ctx, peer, req, span)
	default:
		// A request type added to protocol without a case here.
		err = ErrUnknownType
	}
	if err == nil {
		return
	}

	code := CodeOf(err)
	span.SetAttributes(attribute.String("game.error_code", string(code)))
	if code == CodeInternal {
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("request failed", zap.String("request", requestName(req)), zap.Error(err))
	} else {
		g.logger.Debug("request rejected", zap.String("request", requestName(req)), zap.String("code", string(code)))
	}
	g.send(ctx, peer, protocol.NewFailure(req.ResponseType(), string(code), MessageOf(err)))
}

func (g *Registry) handleCreateRoom(ctx context.Context, peer Peer, span trace.Span) error {
	seat, err := g.CreateRoom(peer)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("game.room_id", seat.RoomID))
	g.send(ctx, peer, seatedMessage(protocol.TypeRoomCreated, seat))
	return nil
}

func (g *Registry) handleJoinRoom(ctx context.Context, peer Peer, req protocol.JoinRoom, span trace.Span) error {
	span.SetAttributes(attribute.String("game.room_id", req.RoomID))
	seat, err := g.JoinRoom(req.RoomID, peer)
	if err != nil {
		return err
	}
	g.send(ctx, peer, seatedMessage(protocol.TypeRoomJoined, seat))
	return nil
}

func (g *Registry) handlePlaceStone(ctx context.Context, peer Peer, req protocol.PlaceStone, span trace.Span) error {
	span.SetAttributes(
		attribute.String("game.room_id", req.RoomID),
		attribute.Int("game.row", req.Row),
		attribute.Int("game.col", req.Col),
	)
	res, peers, err := g.Route(peer, req)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("game.captured", len(res.Captured)))

	g.logger.Info("stone placed",
		zap.String("room_id", req.RoomID),
		zap.Stringer("color", res.Color),
		zap.Int("row", res.Row),
		zap.Int("col", res.Col),
		zap.Int("move", res.MoveCount),
		zap.Int("captured", len(res.Captured)),
	)
	g.broadcast(ctx, req.RoomID, peers, movePlacedMessage(res))
	return nil
}

// broadcast delivers msg to every peer concurrently. A failed delivery is
// logged and does not affect the others.
func (g *Registry) broadcast(ctx context.Context, roomID string, peers []Peer, msg protocol.Message) {
	var wg sync.WaitGroup
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Send(ctx, msg); err != nil {
				g.logger.Warn("broadcast delivery failed",
					zap.String("room_id", roomID),
					zap.String("type", msg.MessageType()),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
}

func (g *Registry) send(ctx context.Context, peer Peer, msg protocol.Message) {
	if err := peer.Send(ctx, msg); err != nil {
		g.logger.Warn("delivery failed", zap.String("type", msg.MessageType()), zap.Error(err))
	}
}

func requestName(req protocol.Request) string {
	switch req.(type) {
	case protocol.CreateRoom:
		return protocol.TypeCreateRoom
	case protocol.JoinRoom:
		return protocol.TypeJoinRoom
	case protocol.PlaceStone:
		return protocol.TypePlaceStone
	}
	return "unknown"
}

func seatedMessage(typ string, seat SeatResult) protocol.Seated {
	return protocol.Seated{
		Type:        typ,
		Success:     true,
		RoomID:      seat.RoomID,
		PlayerID:    seat.ParticipantID,
		PlayerColor: int(seat.Color),
	}
}

func movePlacedMessage(res MoveResult) protocol.MovePlaced {
	msg := protocol.MovePlaced{
		Type:       protocol.TypeMovePlaced,
		Success:    true,
		Row:        res.Row,
		Col:        res.Col,
		Color:      int(res.Color),
		NextPlayer: int(res.NextTurn),
		MoveCount:  res.MoveCount,
	}
	if len(res.Captured) > 0 {
		msg.Captured = make([]protocol.Coord, len(res.Captured))
		for i, p := range res.Captured {
			msg.Captured[i] = protocol.Coord{Row: p.Row, Col: p.Col}
		}
	}
	return msg
}

// IsDeliveryFailure reports whether err came from a Peer that could not
// accept a message.
func IsDeliveryFailure(err error) bool {
	return errors.Is(err, ErrDeliveryFailure)
}
