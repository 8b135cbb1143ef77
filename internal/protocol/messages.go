package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// Control-message type tags.
const (
	MsgStreamConfig   = "StreamConfig"
	MsgDecoderConfigs = "DecoderConfigs"
)

// Meeting-control event type tags carried on the control channel.
const (
	MeetingMicOn             = "mic_on"
	MeetingMicOff            = "mic_off"
	MeetingCameraOn          = "camera_on"
	MeetingCameraOff         = "camera_off"
	MeetingStartShareScreen  = "start_share_screen"
	MeetingStopShareScreen   = "stop_share_screen"
	MeetingPinForEveryone    = "pin_for_everyone"
	MeetingUnpinForEveryone  = "unpin_for_everyone"
)

// ConfigPayload is the JSON shape of one decoder configuration. Description
// carries the codec initialization blob base64-encoded.
type ConfigPayload struct {
	Codec            string  `json:"codec"`
	CodedWidth       int     `json:"codedWidth,omitempty"`
	CodedHeight      int     `json:"codedHeight,omitempty"`
	FrameRate        float64 `json:"frameRate,omitempty"`
	SampleRate       int     `json:"sampleRate,omitempty"`
	NumberOfChannels int     `json:"numberOfChannels,omitempty"`
	Description      string  `json:"description"`
}

// StreamConfigMessage announces one channel's decoder configuration.
type StreamConfigMessage struct {
	Type        string        `json:"type"`
	ChannelName string        `json:"channelName"`
	MediaType   string        `json:"mediaType"`
	Config      ConfigPayload `json:"config"`
}

// DecoderConfigsMessage is the screen-share variant combining both
// sub-streams so the receiver gets one complete message, never two partial
// ones.
type DecoderConfigsMessage struct {
	Type        string         `json:"type"`
	ChannelName string         `json:"channelName"`
	VideoConfig *ConfigPayload `json:"videoConfig"`
	AudioConfig *ConfigPayload `json:"audioConfig,omitempty"`
}

// MeetingEvent is a meeting-control message broadcast on the control channel.
type MeetingEvent struct {
	Type           string `json:"type"`
	SenderStreamID string `json:"sender_stream_id"`
	TargetStreamID string `json:"target_stream_id,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// NewConfigPayload converts a decoder config into its wire shape.
func NewConfigPayload(cfg domain.DecoderConfig) ConfigPayload {
	return ConfigPayload{
		Codec:            cfg.Codec,
		CodedWidth:       cfg.CodedWidth,
		CodedHeight:      cfg.CodedHeight,
		FrameRate:        cfg.FrameRate,
		SampleRate:       cfg.SampleRate,
		NumberOfChannels: cfg.NumberOfChannels,
		Description:      base64.StdEncoding.EncodeToString(cfg.Description),
	}
}

// DecoderConfig converts the wire shape back into a decoder config.
func (p ConfigPayload) DecoderConfig(mediaType domain.MediaType) (domain.DecoderConfig, error) {
	description, err := base64.StdEncoding.DecodeString(p.Description)
	if err != nil {
		return domain.DecoderConfig{}, fmt.Errorf("invalid config description: %w", err)
	}
	return domain.DecoderConfig{
		Codec:            p.Codec,
		MediaType:        mediaType,
		CodedWidth:       p.CodedWidth,
		CodedHeight:      p.CodedHeight,
		FrameRate:        p.FrameRate,
		SampleRate:       p.SampleRate,
		NumberOfChannels: p.NumberOfChannels,
		Description:      description,
	}, nil
}

// ParseControlMessage decodes a control-channel JSON unit into its typed
// form. Callers switch on the returned value's concrete type.
func ParseControlMessage(body []byte) (interface{}, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("unreadable control message: %w", err)
	}

	switch head.Type {
	case MsgStreamConfig:
		var msg StreamConfigMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("malformed StreamConfig: %w", err)
		}
		return &msg, nil
	case MsgDecoderConfigs:
		var msg DecoderConfigsMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("malformed DecoderConfigs: %w", err)
		}
		return &msg, nil
	default:
		var msg MeetingEvent
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("malformed meeting event: %w", err)
		}
		return &msg, nil
	}
}
