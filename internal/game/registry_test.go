package game

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/protocol"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestRegistry(opts ...Option) *Registry {
	base := []Option{WithParticipantIDGenerator(sequentialIDs("player_"))}
	return NewRegistry(append(base, opts...)...)
}

func TestRegistryCreateRoom(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "123456", nil }))
	peer := &fakePeer{}

	seat, err := g.CreateRoom(peer)
	require.NoError(t, err)
	assert.Equal(t, SeatResult{RoomID: "123456", ParticipantID: "player_1", Color: Black}, seat)
	assert.Equal(t, Stats{Rooms: 1, Registrations: 1}, g.Stats())

	room, ok := g.Lookup("123456")
	require.True(t, ok)
	assert.Equal(t, map[string]Color{"player_1": Black}, room.Snapshot().Seats)
}

func TestRegistryRoomIDCollisionRetries(t *testing.T) {
	ids := []string{"111111", "111111", "111111", "222222"}
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}))

	first, err := g.CreateRoom(&fakePeer{})
	require.NoError(t, err)
	second, err := g.CreateRoom(&fakePeer{})
	require.NoError(t, err)

	assert.Equal(t, "111111", first.RoomID)
	assert.Equal(t, "222222", second.RoomID)
	assert.Empty(t, ids)
}

func TestRegistryRoomIDExhaustion(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "999999", nil }))
	owner := &fakePeer{}
	_, err := g.CreateRoom(owner)
	require.NoError(t, err)

	_, err = g.CreateRoom(&fakePeer{})
	require.ErrorIs(t, err, ErrIDSpaceExhausted)

	// The existing room is untouched.
	room, ok := g.Lookup("999999")
	require.True(t, ok)
	assert.Equal(t, map[string]Color{"player_1": Black}, room.Snapshot().Seats)
}

func TestRegistryRandomRoomIDs(t *testing.T) {
	g := NewRegistry()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seat, err := g.CreateRoom(&fakePeer{})
		require.NoError(t, err)
		assert.Len(t, seat.RoomID, 6)
		assert.False(t, seen[seat.RoomID])
		seen[seat.RoomID] = true
		assert.Regexp(t, `^player_[0-9a-f-]{36}$`, seat.ParticipantID)
	}
}

func TestRegistryJoinRoom(t *testing.T) {
	g := newTestRegistry()
	created, err := g.CreateRoom(&fakePeer{})
	require.NoError(t, err)

	_, err = g.JoinRoom("000000", &fakePeer{})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	joined, err := g.JoinRoom(created.RoomID, &fakePeer{})
	require.NoError(t, err)
	assert.Equal(t, White, joined.Color)
	assert.Equal(t, created.RoomID, joined.RoomID)

	// Third participant is turned away.
	third := &fakePeer{}
	_, err = g.JoinRoom(created.RoomID, third)
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, Stats{Rooms: 1, Registrations: 2}, g.Stats())

	// The refused peer has no registration.
	_, _, err = g.Route(third, protocol.PlaceStone{RoomID: created.RoomID, PlayerID: "player_3"})
	assert.ErrorIs(t, err, ErrNotInAnyRoom)
}

func TestRegistryRejectsSecondSeatForSameConnection(t *testing.T) {
	g := newTestRegistry()
	peer := &fakePeer{}
	created, err := g.CreateRoom(peer)
	require.NoError(t, err)

	_, err = g.CreateRoom(peer)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
	_, err = g.JoinRoom(created.RoomID, peer)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
	assert.Equal(t, Stats{Rooms: 1, Registrations: 1}, g.Stats())
}

func TestRegistryRoute(t *testing.T) {
	g := newTestRegistry()
	black, white := &fakePeer{}, &fakePeer{}
	created, err := g.CreateRoom(black)
	require.NoError(t, err)
	joined, err := g.JoinRoom(created.RoomID, white)
	require.NoError(t, err)

	_, _, err = g.Route(&fakePeer{}, protocol.PlaceStone{RoomID: created.RoomID, PlayerID: created.ParticipantID})
	assert.ErrorIs(t, err, ErrNotInAnyRoom)

	// A seated connection cannot act for the other player.
	_, _, err = g.Route(white, protocol.PlaceStone{RoomID: created.RoomID, PlayerID: created.ParticipantID, Row: 1, Col: 1})
	assert.ErrorIs(t, err, ErrUnknownRoomOrParticipant)
	_, _, err = g.Route(black, protocol.PlaceStone{RoomID: "000000", PlayerID: created.ParticipantID, Row: 1, Col: 1})
	assert.ErrorIs(t, err, ErrUnknownRoomOrParticipant)

	_, _, err = g.Route(white, protocol.PlaceStone{RoomID: joined.RoomID, PlayerID: joined.ParticipantID, Row: 1, Col: 1})
	assert.ErrorIs(t, err, ErrOutOfTurn)

	res, peers, err := g.Route(black, protocol.PlaceStone{RoomID: created.RoomID, PlayerID: created.ParticipantID, Row: 1, Col: 1})
	require.NoError(t, err)
	assert.Equal(t, Black, res.Color)
	assert.ElementsMatch(t, []Peer{black, white}, peers)
}

func TestRegistryOnDisconnect(t *testing.T) {
	g := newTestRegistry()
	black, white := &fakePeer{}, &fakePeer{}
	created, err := g.CreateRoom(black)
	require.NoError(t, err)
	_, err = g.JoinRoom(created.RoomID, white)
	require.NoError(t, err)

	g.OnDisconnect(black)
	g.OnDisconnect(black)
	assert.Equal(t, Stats{Rooms: 1, Registrations: 1}, g.Stats())

	// The room cannot be refilled after a departure.
	_, err = g.JoinRoom(created.RoomID, &fakePeer{})
	assert.ErrorIs(t, err, ErrRoomFull)

	g.OnDisconnect(white)
	assert.Equal(t, Stats{}, g.Stats())
	_, ok := g.Lookup(created.RoomID)
	assert.False(t, ok)

	g.OnDisconnect(white)
	g.OnDisconnect(&fakePeer{})
	assert.Equal(t, Stats{}, g.Stats())

	_, err = g.JoinRoom(created.RoomID, &fakePeer{})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHandleCreateAndJoin(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "424242", nil }))
	ctx := context.Background()
	a, b, c := &fakePeer{}, &fakePeer{}, &fakePeer{}

	g.Handle(ctx, a, protocol.CreateRoom{})
	assert.Equal(t, protocol.Seated{
		Type: protocol.TypeRoomCreated, Success: true, RoomID: "424242", PlayerID: "player_1", PlayerColor: 1,
	}, a.last(t))

	g.Handle(ctx, b, protocol.JoinRoom{RoomID: "424242"})
	assert.Equal(t, protocol.Seated{
		Type: protocol.TypeRoomJoined, Success: true, RoomID: "424242", PlayerID: "player_2", PlayerColor: 2,
	}, b.last(t))

	g.Handle(ctx, c, protocol.JoinRoom{RoomID: "424242"})
	assert.Equal(t, protocol.NewFailure(protocol.TypeRoomJoined, string(CodeRoomFull), ErrRoomFull.Message), c.last(t))

	g.Handle(ctx, c, protocol.JoinRoom{RoomID: "000001"})
	assert.Equal(t, protocol.NewFailure(protocol.TypeRoomJoined, string(CodeRoomNotFound), ErrRoomNotFound.Message), c.last(t))

	// Only the requester heard about the failures.
	assert.Len(t, a.messages(), 1)
	assert.Len(t, b.messages(), 1)
}

func TestHandlePlaceStoneBroadcasts(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "424242", nil }))
	ctx := context.Background()
	black, white := &fakePeer{}, &fakePeer{}
	g.Handle(ctx, black, protocol.CreateRoom{})
	g.Handle(ctx, white, protocol.JoinRoom{RoomID: "424242"})

	g.Handle(ctx, black, protocol.PlaceStone{RoomID: "424242", PlayerID: "player_1", Row: 3, Col: 15})
	want := protocol.MovePlaced{
		Type: protocol.TypeMovePlaced, Success: true, Row: 3, Col: 15, Color: 1, NextPlayer: 2, MoveCount: 1,
	}
	assert.Equal(t, want, black.last(t))
	assert.Equal(t, want, white.last(t))

	g.Handle(ctx, black, protocol.PlaceStone{RoomID: "424242", PlayerID: "player_1", Row: 4, Col: 4})
	assert.Equal(t, protocol.NewFailure(protocol.TypeMovePlaced, string(CodeOutOfTurn), ErrOutOfTurn.Message), black.last(t))
	assert.Equal(t, want, white.last(t), "failure is private to the requester")

	g.Handle(ctx, white, protocol.PlaceStone{RoomID: "424242", PlayerID: "player_2", Row: 3, Col: 15})
	assert.Equal(t, protocol.NewFailure(protocol.TypeMovePlaced, string(CodeCellOccupied), ErrCellOccupied.Message), white.last(t))

	stranger := &fakePeer{}
	g.Handle(ctx, stranger, protocol.PlaceStone{RoomID: "424242", PlayerID: "player_1", Row: 0, Col: 0})
	assert.Equal(t, protocol.NewFailure(protocol.TypeMovePlaced, string(CodeNotInAnyRoom), ErrNotInAnyRoom.Message), stranger.last(t))
}

func TestHandlePlaceStoneReportsCaptures(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "424242", nil }))
	ctx := context.Background()
	black, white := &fakePeer{}, &fakePeer{}
	g.Handle(ctx, black, protocol.CreateRoom{})
	g.Handle(ctx, white, protocol.JoinRoom{RoomID: "424242"})

	play := func(p *fakePeer, id string, row, col int) {
		g.Handle(ctx, p, protocol.PlaceStone{RoomID: "424242", PlayerID: id, Row: row, Col: col})
	}
	play(black, "player_1", 0, 0)
	play(white, "player_2", 0, 1)
	play(black, "player_1", 10, 10)
	play(white, "player_2", 1, 0)

	msg, ok := white.last(t).(protocol.MovePlaced)
	require.True(t, ok)
	assert.Equal(t, []protocol.Coord{{Row: 0, Col: 0}}, msg.Captured)
	assert.Equal(t, 1, msg.NextPlayer)
	assert.Equal(t, msg, black.last(t))
}

func TestHandleDeliveryFailureDoesNotUndoMove(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "424242", nil }))
	ctx := context.Background()
	black, white := &fakePeer{}, &fakePeer{}
	g.Handle(ctx, black, protocol.CreateRoom{})
	g.Handle(ctx, white, protocol.JoinRoom{RoomID: "424242"})

	white.mu.Lock()
	white.fail = true
	white.mu.Unlock()

	g.Handle(ctx, black, protocol.PlaceStone{RoomID: "424242", PlayerID: "player_1", Row: 9, Col: 9})

	msg, ok := black.last(t).(protocol.MovePlaced)
	require.True(t, ok, "mover still receives the broadcast")
	assert.True(t, msg.Success)

	room, ok := g.Lookup("424242")
	require.True(t, ok)
	snap := room.Snapshot()
	assert.Equal(t, 1, snap.MoveCount)
	assert.Equal(t, White, snap.Turn)
}

func TestHandleInternalFailure(t *testing.T) {
	g := newTestRegistry(WithRoomIDGenerator(func() (string, error) { return "", errors.New("entropy gone") }))
	peer := &fakePeer{}
	g.Handle(context.Background(), peer, protocol.CreateRoom{})

	failure, ok := peer.last(t).(protocol.Failure)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeRoomCreated, failure.Type)
	assert.Equal(t, string(CodeInternal), failure.Code)
	assert.False(t, failure.Success)
	assert.Equal(t, Stats{}, g.Stats())
}

func TestIsDeliveryFailure(t *testing.T) {
	err := (&fakePeer{fail: true}).Send(context.Background(), protocol.NewErrorFrame("X", "y"))
	assert.True(t, IsDeliveryFailure(err))
	assert.False(t, IsDeliveryFailure(ErrRoomFull))
}

// blockingPolicy holds every move until release is closed.
type blockingPolicy struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPolicy) CheckMove(Move, BoardView) error {
	p.entered <- struct{}{}
	<-p.release
	return nil
}

func TestSlowMoveDoesNotStallRegistry(t *testing.T) {
	policy := &blockingPolicy{entered: make(chan struct{}, 1), release: make(chan struct{})}
	g := newTestRegistry(
		WithMovePolicy(policy),
		WithRoomIDGenerator(sequentialRoomIDs()),
	)
	black, white := &fakePeer{}, &fakePeer{}
	seat, err := g.CreateRoom(black)
	require.NoError(t, err)

	moved := make(chan error, 1)
	go func() {
		_, _, err := g.Route(black, protocol.PlaceStone{RoomID: seat.RoomID, PlayerID: seat.ParticipantID, Row: 3, Col: 3})
		moved <- err
	}()
	<-policy.entered

	// The join waits on the busy room.
	joined := make(chan error, 1)
	go func() {
		_, err := g.JoinRoom(seat.RoomID, white)
		joined <- err
	}()

	// Everything outside that room keeps going.
	done := make(chan struct{})
	go func() {
		defer close(done)
		other := &fakePeer{}
		_, err := g.CreateRoom(other)
		assert.NoError(t, err)
		g.OnDisconnect(other)
		g.Stats()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry blocked behind a move in another room")
	}

	close(policy.release)
	require.NoError(t, <-moved)
	require.NoError(t, <-joined)
	assert.Equal(t, Stats{Rooms: 1, Registrations: 2}, g.Stats())
}

func TestDisconnectWhileJoining(t *testing.T) {
	policy := &blockingPolicy{entered: make(chan struct{}, 1), release: make(chan struct{})}
	g := newTestRegistry(WithMovePolicy(policy))
	black, white := &fakePeer{}, &fakePeer{}
	seat, err := g.CreateRoom(black)
	require.NoError(t, err)

	moved := make(chan error, 1)
	go func() {
		_, _, err := g.Route(black, protocol.PlaceStone{RoomID: seat.RoomID, PlayerID: seat.ParticipantID, Row: 3, Col: 3})
		moved <- err
	}()
	<-policy.entered

	joined := make(chan error, 1)
	go func() {
		_, err := g.JoinRoom(seat.RoomID, white)
		joined <- err
	}()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		_, ok := g.joining[white]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	g.OnDisconnect(white)
	close(policy.release)
	require.NoError(t, <-moved)

	err = <-joined
	assert.True(t, IsDeliveryFailure(err))
	assert.Equal(t, Stats{Rooms: 1, Registrations: 1}, g.Stats())

	room, ok := g.Lookup(seat.RoomID)
	require.True(t, ok)
	assert.Equal(t, map[string]Color{seat.ParticipantID: Black}, room.Snapshot().Seats)
}

func sequentialRoomIDs() func() (string, error) {
	n := 100000
	return func() (string, error) {
		n++
		return fmt.Sprintf("%d", n), nil
	}
}
