package game

import (
	"errors"
	"fmt"
)

// Code is the machine-readable reason carried on failure responses.
type Code string

const (
	CodeRoomNotFound             Code = "ROOM_NOT_FOUND"
	CodeRoomFull                 Code = "ROOM_FULL"
	CodeNotInAnyRoom             Code = "NOT_IN_ANY_ROOM"
	CodeAlreadyInRoom            Code = "ALREADY_IN_ROOM"
	CodeUnknownRoomOrParticipant Code = "UNKNOWN_ROOM_OR_PARTICIPANT"
	CodeOutOfTurn                Code = "OUT_OF_TURN"
	CodeCellOccupied             Code = "CELL_OCCUPIED"
	CodeOutOfBounds              Code = "OUT_OF_BOUNDS"
	CodeRuleViolation            Code = "RULE_VIOLATION"
	CodeMalformedRequest         Code = "MALFORMED_REQUEST"
	CodeUnknownType              Code = "UNKNOWN_TYPE"
	CodeDeliveryFailure          Code = "DELIVERY_FAILURE"
	CodeInternal                 Code = "INTERNAL"
)

// Error is a recoverable game failure reported back to the requesting
// connection.
type Error struct {
	Code    Code
	Message string // user-facing text
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an error with a code and message around a cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrRoomNotFound             = NewError(CodeRoomNotFound, "room not found")
	ErrRoomFull                 = NewError(CodeRoomFull, "room is full")
	ErrNotInAnyRoom             = NewError(CodeNotInAnyRoom, "join or create a room first")
	ErrAlreadyInRoom            = NewError(CodeAlreadyInRoom, "connection is already seated in a room")
	ErrUnknownRoomOrParticipant = NewError(CodeUnknownRoomOrParticipant, "you are not a player in this room")
	ErrOutOfTurn                = NewError(CodeOutOfTurn, "it is not your turn")
	ErrCellOccupied             = NewError(CodeCellOccupied, "that point is already occupied")
	ErrOutOfBounds              = NewError(CodeOutOfBounds, "point is off the board")
	ErrRuleViolation            = NewError(CodeRuleViolation, "move rejected by house rules")
	ErrMalformedRequest         = NewError(CodeMalformedRequest, "malformed request")
	ErrUnknownType              = NewError(CodeUnknownType, "unknown message type")
	ErrDeliveryFailure          = NewError(CodeDeliveryFailure, "message could not be delivered")
	ErrIDSpaceExhausted         = NewError(CodeInternal, "could not allocate a room id")
)

func outOfBounds(r, c int) *Error {
	return NewError(CodeOutOfBounds, fmt.Sprintf("point (%d,%d) is off the board", r, c))
}

// CodeOf extracts the code from err, or "INTERNAL" for foreign errors.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message for err without the cause chain.
func MessageOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	return "internal error"
}
