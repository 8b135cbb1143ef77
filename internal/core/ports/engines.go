package ports

import (
	"context"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// FecEngine abstracts the rateless-code implementation. The engine is free to
// embed per-symbol bookkeeping inside the symbol bytes it produces; callers
// treat symbols as opaque.
type FecEngine interface {
	// NewChunkEncoder partitions data into MTU-bounded source symbols.
	NewChunkEncoder(data []byte, mtu uint16) (FecChunkEncoder, error)
	// NewChunkDecoder builds decode state matching an encoder's config buffer.
	NewChunkDecoder(configBuffer []byte) (FecChunkDecoder, error)
}

// FecChunkEncoder encodes one chunk's symbols.
type FecChunkEncoder interface {
	// Encode returns the source symbols followed by repairCount repair symbols.
	Encode(repairCount uint32) ([][]byte, error)
	// ConfigBuffer returns the metadata the decoder needs to reconstruct the
	// object size and symbol layout. It must accompany the first symbol sent.
	ConfigBuffer() []byte
}

// FecChunkDecoder accumulates symbols across chunks. Ordering across chunks is
// the caller's concern; the engine only reports chunk completion.
type FecChunkDecoder interface {
	// Process feeds one symbol for the given chunk. When the chunk becomes
	// fully decodable it returns (decodedBytes, true). Duplicate symbols and
	// symbols for already-decoded chunks are ignored.
	Process(symbol []byte, chunkID uint32) ([]byte, bool, error)
}

// RawFrame is one decoded media unit (a picture or a block of PCM samples).
type RawFrame struct {
	Data        []byte
	TimestampUs int64
}

// EncoderSession is the platform encode side of the codec engine contract.
// Output is delivered asynchronously; decoder configuration metadata appears
// at most once near stream start.
type EncoderSession interface {
	Start(ctx context.Context, onChunk func(domain.EncodedChunk, *domain.DecoderConfig)) error
	// QueueDepth reports the encoder's in-flight backlog, used to drop frames
	// instead of queueing when the encoder falls behind.
	QueueDepth() int
	// Flush drains in-flight encodes. Called on stop so a final keyframe is
	// not lost.
	Flush() error
	Close() error
}

// DecoderSession is the platform decode side of the codec engine contract.
type DecoderSession interface {
	Configure(config domain.DecoderConfig) error
	Decode(data []byte, timestampUs int64, isKey bool) error
	Start(ctx context.Context, onFrame func(RawFrame)) error
	Close() error
}

// RenderSink receives decoded media for presentation.
type RenderSink interface {
	RenderVideo(frame RawFrame)
	RenderAudio(frame RawFrame)
}

// GainNode is one gain-controlled source inside the platform audio graph.
type GainNode interface {
	SetGain(gain float64)
	Disconnect()
}

// AudioGraph is the platform audio-mixing primitive consumed by the mixer.
type AudioGraph interface {
	AddSource(id string) GainNode
	SetMasterGain(gain float64)
	Suspend() error
	Resume() error
}
