// Package protocol defines the JSON frames exchanged with game clients.
//
// Inbound frames decode into a closed set of Request variants; outbound
// frames are plain structs that marshal to the shapes the browser client
// expects (camelCase keys, success flag, numeric colors 1=black 2=white).
package protocol

// Request and response type tags.
const (
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypePlaceStone  = "place_stone"
	TypeRoomCreated = "room_created"
	TypeRoomJoined  = "room_joined"
	TypeMovePlaced  = "move_placed"
	TypeError       = "error"
)

// Message is any outbound frame.
type Message interface {
	MessageType() string
}

// Coord is a board point on the wire.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Seated answers a successful create_room or join_room.
type Seated struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	RoomID      string `json:"roomId"`
	PlayerID    string `json:"playerId"`
	PlayerColor int    `json:"playerColor"`
}

func (m Seated) MessageType() string { return m.Type }

// MovePlaced is broadcast to both seats after an accepted move.
type MovePlaced struct {
	Type       string  `json:"type"`
	Success    bool    `json:"success"`
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	Color      int     `json:"color"`
	NextPlayer int     `json:"nextPlayer"`
	MoveCount  int     `json:"moveCount"`
	Captured   []Coord `json:"captured,omitempty"`
}

func (m MovePlaced) MessageType() string { return m.Type }

// Failure answers a request of a known type that could not be served.
// Type echoes the response type of the request that failed.
type Failure struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (m Failure) MessageType() string { return m.Type }

// ErrorFrame answers frames that could not be decoded or have an unknown type.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (m ErrorFrame) MessageType() string { return m.Type }

// NewFailure builds a failure answer for the given response type.
func NewFailure(responseType, code, message string) Failure {
	return Failure{Type: responseType, Success: false, Message: message, Code: code}
}

// NewErrorFrame builds a generic error frame.
func NewErrorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message, Code: code}
}
