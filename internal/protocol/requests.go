package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BoardSize bounds row and col on place_stone.
const BoardSize = 19

// ErrMalformed is returned for frames that are not valid JSON objects or
// that miss or mistype required fields.
var ErrMalformed = errors.New("malformed request")

// UnknownTypeError is returned for well-formed frames with an unsupported type.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// Request is the closed set of inbound requests.
type Request interface {
	// ResponseType is the type tag of the answer to this request.
	ResponseType() string
	isRequest()
}

// CreateRoom asks for a new room with the sender seated black.
type CreateRoom struct{}

// JoinRoom asks to take the free seat of an existing room.
type JoinRoom struct {
	RoomID string
}

// PlaceStone asks to play at (Row, Col). Any color sent by the client is
// dropped during decoding; the seat decides the color.
type PlaceStone struct {
	RoomID   string
	PlayerID string
	Row      int
	Col      int
}

func (CreateRoom) ResponseType() string { return TypeRoomCreated }
func (JoinRoom) ResponseType() string   { return TypeRoomJoined }
func (PlaceStone) ResponseType() string { return TypeMovePlaced }

func (CreateRoom) isRequest() {}
func (JoinRoom) isRequest()   {}
func (PlaceStone) isRequest() {}

type envelope struct {
	Type string `json:"type"`
}

// Frames list every accepted key. timestamp is sent by the browser client
// on every frame and color/playerId on some; they are accepted and ignored.
type createRoomFrame struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp"`
}

type joinRoomFrame struct {
	Type      string   `json:"type"`
	RoomID    *string  `json:"roomId"`
	PlayerID  *string  `json:"playerId"`
	Timestamp *float64 `json:"timestamp"`
}

type placeStoneFrame struct {
	Type      string   `json:"type"`
	RoomID    *string  `json:"roomId"`
	PlayerID  *string  `json:"playerId"`
	Row       *int     `json:"row"`
	Col       *int     `json:"col"`
	Color     *int     `json:"color"`
	Timestamp *float64 `json:"timestamp"`
}

// Decode parses one inbound frame. It returns ErrMalformed (possibly
// wrapped) or *UnknownTypeError on failure.
func Decode(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeCreateRoom:
		var f createRoomFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		return CreateRoom{}, nil

	case TypeJoinRoom:
		var f joinRoomFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		roomID, err := requiredString("roomId", f.RoomID)
		if err != nil {
			return nil, err
		}
		return JoinRoom{RoomID: roomID}, nil

	case TypePlaceStone:
		var f placeStoneFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		roomID, err := requiredString("roomId", f.RoomID)
		if err != nil {
			return nil, err
		}
		playerID, err := requiredString("playerId", f.PlayerID)
		if err != nil {
			return nil, err
		}
		if f.Row == nil || f.Col == nil {
			return nil, fmt.Errorf("%w: row and col are required", ErrMalformed)
		}
		if *f.Row < 0 || *f.Row >= BoardSize || *f.Col < 0 || *f.Col >= BoardSize {
			return nil, fmt.Errorf("%w: row and col must be within 0..%d", ErrMalformed, BoardSize-1)
		}
		return PlaceStone{RoomID: roomID, PlayerID: playerID, Row: *f.Row, Col: *f.Col}, nil
	}

	return nil, &UnknownTypeError{Type: env.Type}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func requiredString(name string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrMalformed, name)
	}
	return strings.TrimSpace(*v), nil
}
