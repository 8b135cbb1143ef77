// Package fec implements the forward-error-correction layer: systematic
// encoding of outbound chunks into MTU-bounded symbols and buffered,
// chunk-identified decode with in-order release on receive. The rateless code
// itself lives behind ports.FecEngine.
package fec

import (
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

// EncodedChunk is one chunk's wire material: its identifier, the decoder
// config buffer that must accompany the first symbol, and the source plus
// repair symbols.
type EncodedChunk struct {
	ChunkID      uint32
	ConfigBuffer []byte
	Symbols      [][]byte
}

// Encoder fragments payloads into symbols. Chunk identifiers are monotonic
// per encoder instance. Single writer; the owning pipeline serializes calls.
type Encoder struct {
	engine      ports.FecEngine
	mtu         uint16
	repairCount uint32
	nextChunkID uint32
}

// NewEncoder builds an encoder emitting repairCount repair symbols per chunk.
func NewEncoder(engine ports.FecEngine, mtu uint16, repairCount uint32) *Encoder {
	return &Encoder{
		engine:      engine,
		mtu:         mtu,
		repairCount: repairCount,
	}
}

// EncodeChunk partitions data into symbols and assigns the next chunk ID.
func (e *Encoder) EncodeChunk(data []byte) (*EncodedChunk, error) {
	enc, err := e.engine.NewChunkEncoder(data, e.mtu)
	if err != nil {
		return nil, err
	}

	symbols, err := enc.Encode(e.repairCount)
	if err != nil {
		return nil, err
	}

	chunk := &EncodedChunk{
		ChunkID:      e.nextChunkID,
		ConfigBuffer: enc.ConfigBuffer(),
		Symbols:      symbols,
	}
	e.nextChunkID++
	return chunk, nil
}
