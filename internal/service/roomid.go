package service

import (
	"errors"
	"fmt"
	"strings"
)

// roomIDSeparator joins the two sorted participant ids. User ids never
// contain it, which keeps the derived key unambiguous.
const roomIDSeparator = "_"

// ErrInvalidParticipants indicates a room id was requested for a degenerate
// participant pair.
var ErrInvalidParticipants = errors.New("room requires two distinct non-empty participants")

// DeriveRoomID computes the deterministic, order-independent key for a
// two-party conversation: both sides derive the identical id without any
// discovery handshake.
func DeriveRoomID(a, b string) (string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)

	if a == "" || b == "" || a == b {
		return "", ErrInvalidParticipants
	}
	if strings.Contains(a, roomIDSeparator) || strings.Contains(b, roomIDSeparator) {
		return "", fmt.Errorf("%w: participant id contains reserved separator %q", ErrInvalidParticipants, roomIDSeparator)
	}

	if a > b {
		a, b = b, a
	}
	return a + roomIDSeparator + b, nil
}
