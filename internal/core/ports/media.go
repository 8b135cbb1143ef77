package ports

import (
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// MediaProvider supplies platform codec sessions and render surfaces. One
// provider serves a whole client; sessions are created per track and per
// remote participant.
type MediaProvider interface {
	NewEncoderSession(purpose domain.StreamPurpose, template domain.DecoderConfig) (EncoderSession, error)
	NewVideoDecoder(streamID domain.StreamID) (DecoderSession, error)
	NewAudioDecoder(streamID domain.StreamID) (DecoderSession, error)
	NewRenderSink(streamID domain.StreamID) (RenderSink, error)
	AudioGraph() AudioGraph
}
