// Package protocol implements the media wire protocol: the 5-byte packet
// header used on every media stream, the JSON control-message catalog, the
// per-purpose stream channel and the codec-configuration handshake.
package protocol

import (
	"encoding/binary"
	"math"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// HeaderSize is the fixed size of the binary packet header: a 4-byte
// big-endian relative timestamp in milliseconds followed by a 1-byte type.
const HeaderSize = 5

// PacketType is the 1-byte unit type carried in every packet header.
type PacketType uint8

const (
	PacketVideoLowKey    PacketType = 0
	PacketVideoLowDelta  PacketType = 1
	PacketVideoHighKey   PacketType = 2
	PacketVideoHighDelta PacketType = 3
	PacketScreenKey      PacketType = 4
	PacketScreenDelta    PacketType = 5
	PacketAudio          PacketType = 6
	PacketConfig         PacketType = 7
	PacketOther          PacketType = 8
)

// IsConfig reports whether the type carries channel configuration rather than
// media. Decoder configuration rides as JSON behind an Other-typed header.
func (t PacketType) IsConfig() bool {
	return t == PacketConfig || t == PacketOther
}

// EncodePacket frames payload behind the 5-byte header. The relative
// timestamp is clamped to zero from below and saturates at the u32 ceiling.
func EncodePacket(payload []byte, relativeTimestampMs int64, t PacketType) []byte {
	ts := relativeTimestampMs
	if ts < 0 {
		ts = 0
	}
	if ts > math.MaxUint32 {
		ts = math.MaxUint32
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(ts))
	buf[4] = byte(t)
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodePacket is the exact inverse of EncodePacket. It fails with
// domain.ErrMalformedPacket when the input is shorter than the header.
func DecodePacket(b []byte) (timestampMs uint32, t PacketType, payload []byte, err error) {
	if len(b) < HeaderSize {
		return 0, 0, nil, domain.ErrMalformedPacket
	}
	return binary.BigEndian.Uint32(b[0:4]), PacketType(b[4]), b[HeaderSize:], nil
}
