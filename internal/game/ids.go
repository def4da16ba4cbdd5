package game

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	roomIDDigits      = 6
	roomIDSpace       = 900000 // 100000..999999
	maxRoomIDAttempts = 64
)

// randomRoomID returns a six digit room code.
func randomRoomID() (string, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random room id: %w", err)
	}
	n := 100000 + binary.BigEndian.Uint64(b[:])%roomIDSpace
	return fmt.Sprintf("%0*d", roomIDDigits, n), nil
}

func newParticipantID() string {
	return "player_" + uuid.NewString()
}
