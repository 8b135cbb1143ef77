package domain

import "time"

type UserID string
type StreamID string
type MembershipID string
type RoomID string

// Role is the participant's role inside a room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

// ConnectionStatus tracks the media-plane state of a participant.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusFailed       ConnectionStatus = "failed"
)

// Participant binds one user to its media endpoints and UI-facing flags.
// Exactly one participant per room is local.
type Participant struct {
	UserID       UserID
	StreamID     StreamID
	MembershipID MembershipID
	DisplayName  string
	Role         Role

	IsLocal         bool
	IsAudioEnabled  bool
	IsVideoEnabled  bool
	IsPinned        bool
	IsScreenSharing bool

	ConnectionStatus ConnectionStatus
	JoinedAt         time.Time
}

// CanModerate reports whether this participant may perform room-wide actions
// such as pinning for everyone or closing breakout rooms.
func (p *Participant) CanModerate() bool {
	return p.Role == RoleOwner
}
