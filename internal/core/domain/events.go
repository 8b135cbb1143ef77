package domain

import "time"

// RoomEventKind enumerates every event a Room can emit. The set is closed:
// payload fields are statically known per kind.
type RoomEventKind string

const (
	EventParticipantJoined RoomEventKind = "participant_joined"
	EventParticipantLeft   RoomEventKind = "participant_left"
	EventMicOn             RoomEventKind = "mic_on"
	EventMicOff            RoomEventKind = "mic_off"
	EventCameraOn          RoomEventKind = "camera_on"
	EventCameraOff         RoomEventKind = "camera_off"
	EventScreenShareStart  RoomEventKind = "start_share_screen"
	EventScreenShareStop   RoomEventKind = "stop_share_screen"
	EventPinned            RoomEventKind = "pin_for_everyone"
	EventUnpinned          RoomEventKind = "unpin_for_everyone"
	EventChatMessage       RoomEventKind = "message"
	EventChatMessageUpdate RoomEventKind = "messageUpdate"
	EventChatMessageDelete RoomEventKind = "messageDelete"
	EventTypingStart       RoomEventKind = "typingStart"
	EventTypingStop        RoomEventKind = "typingStop"
	EventSubRoomExpiring   RoomEventKind = "subroom_expiring"
	EventSubRoomExpired    RoomEventKind = "subroom_expired"
	EventStatusChanged     RoomEventKind = "status_changed"
)

// RoomEvent is the closed event variant delivered to room listeners.
type RoomEvent struct {
	Kind        RoomEventKind
	RoomID      RoomID
	UserID      UserID
	Participant *Participant
	Message     *ChatMessage
	Status      ConnectionStatus
	At          time.Time
}

// ChatMessage is a relayed chat payload. The core does not persist history.
type ChatMessage struct {
	ID       string
	Sender   UserID
	Body     string
	SentAt   time.Time
	EditedAt time.Time
}

// ClientEventKind enumerates session-level events from the client facade.
type ClientEventKind string

const (
	ClientConnected             ClientEventKind = "connected"
	ClientDisconnected          ClientEventKind = "disconnected"
	ClientReconnecting          ClientEventKind = "reconnecting"
	ClientReconnectionExhausted ClientEventKind = "reconnection_exhausted"
	ClientRoomJoined            ClientEventKind = "room_joined"
	ClientRoomLeft              ClientEventKind = "room_left"
)

// ClientEvent is the closed event variant delivered to application listeners.
type ClientEvent struct {
	Kind    ClientEventKind
	RoomID  RoomID
	Attempt int   // set for reconnecting events
	Err     error // set for terminal failures
	At      time.Time
}
