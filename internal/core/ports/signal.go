package ports

import (
	"context"
	"encoding/json"
)

// SignalEvent is one server-pushed room event. Payload shape depends on Type;
// unknown types are ignored by the dispatcher, not errors.
type SignalEvent struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventFeed is the server-push event connection (join/leave/mute/pin/chat).
type EventFeed interface {
	Connect(ctx context.Context) error
	// Events yields server-pushed events until the feed closes. The channel is
	// closed when the connection drops; reconnection is the session's policy.
	Events() <-chan SignalEvent
	// Send publishes a client-originated event (chat, typing) to the room.
	Send(ctx context.Context, event SignalEvent) error
	Close() error
}
