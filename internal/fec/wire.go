package fec

import (
	"encoding/binary"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// Symbol envelope carried as a media packet payload on FEC-enabled channels:
// [u32 BE chunkID][u8 configLen][configBuffer][symbol]. The config buffer is
// small and rides on every symbol so decode state can be built no matter
// which symbols survive.
const envelopeHeaderSize = 5

// WrapSymbol builds the wire envelope for one symbol of a chunk.
func WrapSymbol(chunkID uint32, configBuffer, symbol []byte) []byte {
	out := make([]byte, envelopeHeaderSize+len(configBuffer)+len(symbol))
	binary.BigEndian.PutUint32(out[0:4], chunkID)
	out[4] = byte(len(configBuffer))
	copy(out[envelopeHeaderSize:], configBuffer)
	copy(out[envelopeHeaderSize+len(configBuffer):], symbol)
	return out
}

// UnwrapSymbol parses a wire envelope back into its parts.
func UnwrapSymbol(payload []byte) (chunkID uint32, configBuffer, symbol []byte, err error) {
	if len(payload) < envelopeHeaderSize {
		return 0, nil, nil, domain.ErrMalformedPacket
	}
	cfgLen := int(payload[4])
	if len(payload) < envelopeHeaderSize+cfgLen {
		return 0, nil, nil, domain.ErrMalformedPacket
	}
	chunkID = binary.BigEndian.Uint32(payload[0:4])
	configBuffer = payload[envelopeHeaderSize : envelopeHeaderSize+cfgLen]
	symbol = payload[envelopeHeaderSize+cfgLen:]
	return chunkID, configBuffer, symbol, nil
}
