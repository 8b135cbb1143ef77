package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// NegotiationState is the per-channel codec handshake state.
type NegotiationState int32

const (
	StateUnconfigured NegotiationState = iota
	StateConfigPending
	StateConfigured
)

func (s NegotiationState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigPending:
		return "config-pending"
	case StateConfigured:
		return "configured"
	default:
		return "unknown"
	}
}

// Ogg container boundary marker: 4-byte capture pattern plus the
// beginning-of-stream flag in the header-type byte.
const (
	oggHeaderTypeOffset = 5
	oggBOSFlag          = 0x02
)

var oggMagic = []byte("OggS")

// hasContainerBoundary reports whether an encoder output unit starts a new
// audio container stream.
func hasContainerBoundary(data []byte) bool {
	if len(data) <= oggHeaderTypeOffset {
		return false
	}
	if !bytes.Equal(data[:4], oggMagic) {
		return false
	}
	return data[oggHeaderTypeOffset]&oggBOSFlag != 0
}

// ConfigPublisher ships a detected decoder config. It reports whether the
// channel's gate is now open; a combined (screen-share) publisher may keep it
// closed until every sub-stream's config arrived.
type ConfigPublisher func(ctx context.Context, cfg domain.DecoderConfig) (open bool, err error)

// Negotiator watches one channel's encoder output for its first configurable
// unit and emits exactly one control message before gating media through.
// Units seen before configuration completes are dropped, never queued.
type Negotiator struct {
	channelName string
	mediaType   domain.MediaType
	template    domain.DecoderConfig
	publish     ConfigPublisher
	state       atomic.Int32
	logger      *zap.Logger
}

// NewNegotiator builds a negotiator for one channel. template carries the
// codec parameters known from capture settings; the initialization blob is
// filled in from the detected unit or the encoder metadata.
func NewNegotiator(channelName string, mediaType domain.MediaType, template domain.DecoderConfig, publish ConfigPublisher, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		channelName: channelName,
		mediaType:   mediaType,
		template:    template,
		publish:     publish,
		logger:      logger.With(zap.String("channel", channelName)),
	}
}

// State returns the current handshake state.
func (n *Negotiator) State() NegotiationState {
	return NegotiationState(n.state.Load())
}

// markConfigured opens the gate. Called by a combined publisher once the
// full DecoderConfigs message went out.
func (n *Negotiator) markConfigured() {
	n.state.Store(int32(StateConfigured))
}

// OnEncoderOutput inspects one encoder output unit and reports whether it may
// flow on as a media packet.
func (n *Negotiator) OnEncoderOutput(ctx context.Context, chunk domain.EncodedChunk, meta *domain.DecoderConfig) bool {
	switch n.State() {
	case StateConfigured:
		return true
	case StateConfigPending:
		return false
	}

	cfg, ok := n.detect(chunk, meta)
	if !ok {
		return false
	}

	n.state.Store(int32(StateConfigPending))
	open, err := n.publish(ctx, cfg)
	if err != nil {
		n.state.Store(int32(StateUnconfigured))
		n.logger.Warn("config publish failed", zap.Error(err))
		return false
	}
	if open {
		n.markConfigured()
		return true
	}
	// Combined gate still waiting on a sibling sub-stream.
	return false
}

// detect finds the first configurable unit: a container boundary marker for
// audio, a decoder-config side channel for video.
func (n *Negotiator) detect(chunk domain.EncodedChunk, meta *domain.DecoderConfig) (domain.DecoderConfig, bool) {
	if n.mediaType == domain.MediaTypeAudio {
		if !hasContainerBoundary(chunk.Data) {
			return domain.DecoderConfig{}, false
		}
		cfg := n.template
		cfg.MediaType = domain.MediaTypeAudio
		cfg.Description = append([]byte(nil), chunk.Data...)
		return cfg, true
	}

	if meta == nil {
		return domain.DecoderConfig{}, false
	}
	cfg := *meta
	cfg.MediaType = domain.MediaTypeVideo
	if cfg.Codec == "" {
		cfg.Codec = n.template.Codec
	}
	return cfg, true
}

// StandalonePublisher sends one StreamConfig message on the channel and opens
// the gate immediately.
func StandalonePublisher(channelName string, mediaType domain.MediaType, send func(ctx context.Context, body []byte) error) ConfigPublisher {
	return func(ctx context.Context, cfg domain.DecoderConfig) (bool, error) {
		msg := StreamConfigMessage{
			Type:        MsgStreamConfig,
			ChannelName: channelName,
			MediaType:   string(mediaType),
			Config:      NewConfigPayload(cfg),
		}
		body, err := json.Marshal(&msg)
		if err != nil {
			return false, err
		}
		if err := send(ctx, body); err != nil {
			return false, err
		}
		return true, nil
	}
}

// ScreenShareNegotiator withholds the combined DecoderConfigs message until
// both the video and (when present) audio sub-streams produced their configs,
// so the receiver gets one complete message instead of two partial ones. A
// fallback timer sends video-only when the audio config never materializes.
type ScreenShareNegotiator struct {
	channelName string
	expectAudio bool
	timeout     time.Duration
	send        func(ctx context.Context, body []byte) error
	logger      *zap.Logger

	mu       sync.Mutex
	videoCfg *ConfigPayload
	audioCfg *ConfigPayload
	sent     bool
	timer    *time.Timer
	gated    []*Negotiator
}

// NewScreenShareNegotiator builds the combined gate for a screen-share
// channel pair.
func NewScreenShareNegotiator(channelName string, expectAudio bool, timeout time.Duration, send func(ctx context.Context, body []byte) error, logger *zap.Logger) *ScreenShareNegotiator {
	return &ScreenShareNegotiator{
		channelName: channelName,
		expectAudio: expectAudio,
		timeout:     timeout,
		send:        send,
		logger:      logger.With(zap.String("channel", channelName)),
	}
}

// VideoPublisher returns the ConfigPublisher for the video sub-stream.
func (s *ScreenShareNegotiator) VideoPublisher() ConfigPublisher {
	return func(ctx context.Context, cfg domain.DecoderConfig) (bool, error) {
		payload := NewConfigPayload(cfg)

		s.mu.Lock()
		s.videoCfg = &payload
		if s.expectAudio && s.audioCfg == nil && s.timer == nil {
			s.timer = time.AfterFunc(s.timeout, s.onTimeout)
		}
		s.mu.Unlock()

		return false, s.trySend(ctx)
	}
}

// AudioPublisher returns the ConfigPublisher for the audio sub-stream.
func (s *ScreenShareNegotiator) AudioPublisher() ConfigPublisher {
	return func(ctx context.Context, cfg domain.DecoderConfig) (bool, error) {
		payload := NewConfigPayload(cfg)

		s.mu.Lock()
		s.audioCfg = &payload
		s.mu.Unlock()

		return false, s.trySend(ctx)
	}
}

// Gate registers a sub-stream negotiator to be opened once the combined
// message is sent.
func (s *ScreenShareNegotiator) Gate(n *Negotiator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gated = append(s.gated, n)
}

// Sent reports whether the combined message went out.
func (s *ScreenShareNegotiator) Sent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *ScreenShareNegotiator) onTimeout() {
	s.mu.Lock()
	timedOut := !s.sent && s.audioCfg == nil && s.videoCfg != nil
	s.mu.Unlock()
	if !timedOut {
		return
	}

	s.logger.Warn("audio config never arrived, sending screen config video-only",
		zap.Duration("timeout", s.timeout))

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.sendLocked(ctx, true); err != nil {
		s.logger.Warn("fallback config send failed", zap.Error(err))
	}
}

func (s *ScreenShareNegotiator) trySend(ctx context.Context) error {
	return s.sendLocked(ctx, false)
}

func (s *ScreenShareNegotiator) sendLocked(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.sent || s.videoCfg == nil || (!force && s.expectAudio && s.audioCfg == nil) {
		s.mu.Unlock()
		return nil
	}

	msg := DecoderConfigsMessage{
		Type:        MsgDecoderConfigs,
		ChannelName: s.channelName,
		VideoConfig: s.videoCfg,
		AudioConfig: s.audioCfg,
	}
	body, err := json.Marshal(&msg)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.sent = true
	if s.timer != nil {
		s.timer.Stop()
	}
	gated := append([]*Negotiator(nil), s.gated...)
	s.mu.Unlock()

	if err := s.send(ctx, body); err != nil {
		s.mu.Lock()
		s.sent = false
		s.mu.Unlock()
		return err
	}

	for _, n := range gated {
		n.markConfigured()
	}
	return nil
}
