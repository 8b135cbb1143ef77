package domain

// StreamPurpose identifies what a stream channel carries. Every channel has
// exactly one purpose for its whole lifetime.
type StreamPurpose string

const (
	PurposeEvent       StreamPurpose = "event"
	PurposeCameraHigh  StreamPurpose = "camera-high"
	PurposeCameraLow   StreamPurpose = "camera-low"
	PurposeScreen      StreamPurpose = "screen"
	PurposeScreenAudio StreamPurpose = "screen-audio"
	PurposeMicrophone  StreamPurpose = "microphone"
)

// IsVideo reports whether the purpose carries video units.
func (p StreamPurpose) IsVideo() bool {
	switch p {
	case PurposeCameraHigh, PurposeCameraLow, PurposeScreen:
		return true
	}
	return false
}

// IsAudio reports whether the purpose carries audio units.
func (p StreamPurpose) IsAudio() bool {
	return p == PurposeMicrophone || p == PurposeScreenAudio
}

// MediaType distinguishes audio from video in decoder configuration.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// VideoQuality selects which camera sub-stream a subscriber renders.
type VideoQuality string

const (
	QualityHigh VideoQuality = "high"
	QualityLow  VideoQuality = "low"
)

// DecoderConfig carries the one-time codec initialization parameters for a
// channel. Immutable once sent; renegotiation requires a new channel.
type DecoderConfig struct {
	Codec     string
	MediaType MediaType

	// Video parameters
	CodedWidth  int
	CodedHeight int
	FrameRate   float64

	// Audio parameters
	SampleRate       int
	NumberOfChannels int

	// Codec-specific initialization blob: container header bytes for audio,
	// parameter-set bytes for video.
	Description []byte
}

// EncodedChunk is one unit of encoder output flowing through the pipelines.
type EncodedChunk struct {
	Data        []byte
	TimestampUs int64
	IsKey       bool
}
