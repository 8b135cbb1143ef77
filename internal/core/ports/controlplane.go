package ports

import (
	"context"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// ParticipantInfo is the control-plane view of one room member.
type ParticipantInfo struct {
	UserID         domain.UserID       `json:"user_id"`
	StreamID       domain.StreamID     `json:"stream_id"`
	MembershipID   domain.MembershipID `json:"membership_id"`
	DisplayName    string              `json:"display_name"`
	Role           domain.Role         `json:"role"`
	IsAudioEnabled bool                `json:"is_audio_enabled"`
	IsVideoEnabled bool                `json:"is_video_enabled"`
}

// RoomInfo is the control-plane view of a room.
type RoomInfo struct {
	ID           domain.RoomID     `json:"id"`
	Code         string            `json:"code"`
	Name         string            `json:"name"`
	Type         string            `json:"type"` // "main" or "breakout"
	Participants []ParticipantInfo `json:"participants"`
}

// SubRoomInfo extends RoomInfo with breakout-specific fields.
type SubRoomInfo struct {
	RoomInfo
	ParentID        domain.RoomID `json:"parent_id"`
	MaxParticipants int           `json:"max_participants"`
	DurationMinutes int           `json:"duration_minutes"`
	AutoReturn      bool          `json:"auto_return"`
}

// SubRoomOptions configures breakout-room creation.
type SubRoomOptions struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
	DurationMinutes int    `json:"duration_minutes"`
	AutoReturn      bool   `json:"auto_return"`
}

// JoinResult is returned by join calls: the caller's membership plus the
// current roster.
type JoinResult struct {
	Room         RoomInfo            `json:"room"`
	MembershipID domain.MembershipID `json:"membership_id"`
	StreamID     domain.StreamID     `json:"stream_id"`
	Role         domain.Role         `json:"role"`
}

// ControlPlane is the REST control-plane consumed by the core. Every call is
// fallible and safe to retry at the caller's discretion.
type ControlPlane interface {
	CreateRoom(ctx context.Context, name string) (*RoomInfo, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*RoomInfo, error)
	JoinByCode(ctx context.Context, code string, userID domain.UserID) (*JoinResult, error)
	Leave(ctx context.Context, roomID domain.RoomID, membershipID domain.MembershipID) error
	ListParticipants(ctx context.Context, roomID domain.RoomID) ([]ParticipantInfo, error)

	CreateSubRoom(ctx context.Context, parentID domain.RoomID, opts SubRoomOptions) (*SubRoomInfo, error)
	ListSubRooms(ctx context.Context, parentID domain.RoomID) ([]SubRoomInfo, error)
	DeleteSubRoom(ctx context.Context, parentID, subRoomID domain.RoomID) error
}

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context) (token string, err error)
}
