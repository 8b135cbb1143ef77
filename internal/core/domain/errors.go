package domain

import "errors"

var (
	ErrMalformedPacket      = errors.New("malformed packet")
	ErrChannelClosed        = errors.New("channel closed")
	ErrConfigNotReady       = errors.New("decoder config not ready")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAlreadyJoined        = errors.New("already joined")
	ErrNotJoined            = errors.New("not joined")
	ErrSubRoomFull          = errors.New("sub-room is full")
	ErrSubRoomExpired       = errors.New("sub-room has expired")
	ErrReconnectInProgress  = errors.New("reconnection already in progress")
	ErrTrackExists          = errors.New("track already published")
	ErrSubscriberNotStarted = errors.New("subscriber not started")
)
