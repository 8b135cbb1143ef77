package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateMembershipID generates a unique membership ID
func GenerateMembershipID() string {
	return GenerateID("member")
}

// GenerateMessageID generates a unique chat message ID
func GenerateMessageID() string {
	return GenerateID("msg")
}

// GenerateRoomCode generates a short join code for a room
func GenerateRoomCode() string {
	id := uuid.New().String()
	return id[:8]
}

// GenerateID generates a prefixed unique ID
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

// NowMillis returns the current wall clock in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
