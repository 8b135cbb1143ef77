package domain

import "time"

// DecoderHealth is a snapshot of FEC decoder state for diagnostics.
type DecoderHealth struct {
	LastDecodedSequence int64
	BufferSize          int
	ChunksRecovered     uint64
	ChunksExpired       uint64
	Timestamp           time.Time
}

// SessionMetrics aggregates one session's media-plane counters.
type SessionMetrics struct {
	PacketsSent        uint64
	PacketsDropped     uint64
	UnconfiguredDrops  uint64
	EncoderDrops       uint64
	BytesSent          uint64
	BytesReceived      uint64
	ReconnectAttempts  uint64
	Timestamp          time.Time
}
