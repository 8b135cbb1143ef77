package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/fec"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/protocol"
)

// SubscriberState is the subscriber lifecycle state machine. Failed is
// terminal and reachable from Starting and Started on unrecoverable error.
type SubscriberState int32

const (
	SubscriberIdle SubscriberState = iota
	SubscriberStarting
	SubscriberStarted
	SubscriberStopping
	SubscriberStopped
	SubscriberFailed
)

func (s SubscriberState) String() string {
	switch s {
	case SubscriberIdle:
		return "idle"
	case SubscriberStarting:
		return "starting"
	case SubscriberStarted:
		return "started"
	case SubscriberStopping:
		return "stopping"
	case SubscriberStopped:
		return "stopped"
	case SubscriberFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SubscriberParams are the collaborators one subscribe session renders with.
type SubscriberParams struct {
	StreamID     domain.StreamID
	VideoDecoder ports.DecoderSession
	AudioDecoder ports.DecoderSession
	Sink         ports.RenderSink

	// FecEngine must match the publisher's choice; nil for plain channels.
	FecEngine ports.FecEngine

	// InitialQuality selects which camera sub-stream is rendered first.
	InitialQuality domain.VideoQuality

	// OnStatus receives media-plane status transitions. Optional.
	OnStatus func(domain.ConnectionStatus)
}

// Subscriber renders one remote participant's inbound media. Channels are
// attached while Idle; Start establishes the decode pipeline and fails fast
// when a required platform capability is unavailable.
type Subscriber struct {
	params SubscriberParams
	logger *zap.Logger

	state  atomic.Int32
	muted  atomic.Bool
	active atomic.String // rendered camera sub-stream purpose

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	channels    map[domain.StreamPurpose]*protocol.StreamChannel
	fecDecoders map[domain.StreamPurpose]*fec.Decoder

	stopped core.Fuse
	pumps   sync.WaitGroup

	packetsDropped atomic.Uint64
	decodeFailures atomic.Uint64
}

// NewSubscriber builds a subscriber for one remote stream.
func NewSubscriber(params SubscriberParams, logger *zap.Logger) *Subscriber {
	s := &Subscriber{
		params:      params,
		logger:      logger.With(zap.String("stream_id", string(params.StreamID))),
		channels:    make(map[domain.StreamPurpose]*protocol.StreamChannel),
		fecDecoders: make(map[domain.StreamPurpose]*fec.Decoder),
	}
	quality := params.InitialQuality
	if quality == "" {
		quality = domain.QualityHigh
	}
	s.active.Store(string(purposeForQuality(quality)))
	return s
}

// State returns the current lifecycle state.
func (s *Subscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

// AttachChannel registers one inbound sub-stream. Only valid while Idle.
func (s *Subscriber) AttachChannel(ch *protocol.StreamChannel) error {
	if s.State() != SubscriberIdle {
		return fmt.Errorf("attach in state %s", s.State())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.Purpose()] = ch
	return nil
}

// Start establishes the decode pipeline and begins rendering. Fails fast,
// transitioning to Failed, when a required decoder or sink is missing or a
// decoder session cannot start.
func (s *Subscriber) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(SubscriberIdle), int32(SubscriberStarting)) {
		return fmt.Errorf("start in state %s", s.State())
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.checkCapabilities(); err != nil {
		s.fail(err)
		return err
	}

	if s.params.VideoDecoder != nil {
		if err := s.params.VideoDecoder.Start(s.ctx, s.onVideoFrame); err != nil {
			s.fail(err)
			return err
		}
	}
	if s.params.AudioDecoder != nil {
		if err := s.params.AudioDecoder.Start(s.ctx, s.onAudioFrame); err != nil {
			s.fail(err)
			return err
		}
	}

	s.mu.Lock()
	channels := make([]*protocol.StreamChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Start(s.ctx)
		s.pumps.Add(1)
		go s.pump(ch)
	}

	s.state.Store(int32(SubscriberStarted))
	s.notify(domain.StatusConnected)
	return nil
}

// ToggleAudio flips the local mute flag without tearing down the session and
// returns the new muted state.
func (s *Subscriber) ToggleAudio() bool {
	return s.muted.Toggle()
}

// Muted reports the local mute flag.
func (s *Subscriber) Muted() bool { return s.muted.Load() }

// SwitchBitrate re-points which camera sub-stream is actively rendered. No
// renegotiation; the inactive channel keeps draining and its units drop.
func (s *Subscriber) SwitchBitrate(quality domain.VideoQuality) error {
	if s.State() != SubscriberStarted {
		return domain.ErrSubscriberNotStarted
	}
	s.active.Store(string(purposeForQuality(quality)))
	return nil
}

// Stop tears down the pipeline. Idempotent and safe from any non-Idle state.
func (s *Subscriber) Stop() {
	s.stopped.Once(func() {
		if s.State() == SubscriberFailed {
			return
		}
		s.state.Store(int32(SubscriberStopping))
		if s.cancel != nil {
			s.cancel()
		}

		s.mu.Lock()
		channels := make([]*protocol.StreamChannel, 0, len(s.channels))
		for _, ch := range s.channels {
			channels = append(channels, ch)
		}
		s.mu.Unlock()
		for _, ch := range channels {
			ch.Close()
		}
		s.pumps.Wait()

		if s.params.VideoDecoder != nil {
			s.params.VideoDecoder.Close()
		}
		if s.params.AudioDecoder != nil {
			s.params.AudioDecoder.Close()
		}
		s.state.Store(int32(SubscriberStopped))
	})
}

// Health snapshots the FEC decoders for diagnostics.
func (s *Subscriber) Health() domain.DecoderHealth {
	health := domain.DecoderHealth{LastDecodedSequence: -1, Timestamp: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dec := range s.fecDecoders {
		if seq := dec.LastDecodedSequence(); seq > health.LastDecodedSequence {
			health.LastDecodedSequence = seq
		}
		health.BufferSize += dec.BufferSize()
		health.ChunksRecovered += dec.Recovered()
		health.ChunksExpired += dec.Expired()
	}
	return health
}

// PacketsDropped counts units dropped off the inactive sub-stream or lost to
// decode errors.
func (s *Subscriber) PacketsDropped() uint64 { return s.packetsDropped.Load() }

func (s *Subscriber) checkCapabilities() error {
	if s.params.Sink == nil {
		return fmt.Errorf("render sink unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for purpose := range s.channels {
		if purpose.IsVideo() && s.params.VideoDecoder == nil {
			return fmt.Errorf("video decoder unavailable for %s", purpose)
		}
		if purpose.IsAudio() && s.params.AudioDecoder == nil {
			return fmt.Errorf("audio decoder unavailable for %s", purpose)
		}
	}
	return nil
}

// pump drains one channel's accepted units into the decode pipeline.
func (s *Subscriber) pump(ch *protocol.StreamChannel) {
	defer s.pumps.Done()

	purpose := ch.Purpose()
	for pkt := range ch.Inbound() {
		if pkt.Type.IsConfig() {
			if err := s.handleConfig(purpose, pkt.Payload); err != nil {
				s.fail(err)
				return
			}
			continue
		}
		s.handleMedia(purpose, pkt)
	}

	// Receive loop ended under us: a transport-level loss, not a stop.
	if s.State() == SubscriberStarted {
		s.notify(domain.StatusDisconnected)
	}
}

// handleConfig applies a decoder-configuration unit. An invalid config is a
// defect, reported up rather than silently swallowed.
func (s *Subscriber) handleConfig(purpose domain.StreamPurpose, body []byte) error {
	msg, err := protocol.ParseControlMessage(body)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *protocol.StreamConfigMessage:
		mediaType := domain.MediaTypeVideo
		if purpose.IsAudio() {
			mediaType = domain.MediaTypeAudio
		}
		cfg, err := m.Config.DecoderConfig(mediaType)
		if err != nil {
			return err
		}
		return s.configure(mediaType, cfg)
	case *protocol.DecoderConfigsMessage:
		if m.VideoConfig != nil && purpose.IsVideo() {
			cfg, err := m.VideoConfig.DecoderConfig(domain.MediaTypeVideo)
			if err != nil {
				return err
			}
			if err := s.configure(domain.MediaTypeVideo, cfg); err != nil {
				return err
			}
		}
		if m.AudioConfig != nil && purpose.IsAudio() {
			cfg, err := m.AudioConfig.DecoderConfig(domain.MediaTypeAudio)
			if err != nil {
				return err
			}
			return s.configure(domain.MediaTypeAudio, cfg)
		}
		return nil
	default:
		return fmt.Errorf("unexpected control message on %s channel", purpose)
	}
}

func (s *Subscriber) configure(mediaType domain.MediaType, cfg domain.DecoderConfig) error {
	if mediaType == domain.MediaTypeAudio {
		return s.params.AudioDecoder.Configure(cfg)
	}
	return s.params.VideoDecoder.Configure(cfg)
}

func (s *Subscriber) handleMedia(purpose domain.StreamPurpose, pkt protocol.InboundPacket) {
	if purpose.IsVideo() && purpose != domain.PurposeScreen && string(purpose) != s.active.Load() {
		s.packetsDropped.Inc()
		return
	}

	tsUs := int64(pkt.TimestampMs) * 1000
	isKey := pkt.Type == protocol.PacketVideoLowKey ||
		pkt.Type == protocol.PacketVideoHighKey ||
		pkt.Type == protocol.PacketScreenKey

	if s.params.FecEngine == nil {
		s.decode(purpose, pkt.Payload, tsUs, isKey)
		return
	}

	chunkID, configBuffer, symbol, err := fec.UnwrapSymbol(pkt.Payload)
	if err != nil {
		s.packetsDropped.Inc()
		s.logger.Warn("dropping malformed fec symbol", zap.String("channel", string(purpose)))
		return
	}
	dec, err := s.fecDecoder(purpose, configBuffer)
	if err != nil {
		s.packetsDropped.Inc()
		s.logger.Warn("fec decoder init failed", zap.String("channel", string(purpose)), zap.Error(err))
		return
	}
	released, err := dec.Process(symbol, chunkID)
	if err != nil {
		s.packetsDropped.Inc()
		return
	}
	for _, chunk := range released {
		s.decode(purpose, chunk.Data, tsUs, isKey)
	}
}

func (s *Subscriber) fecDecoder(purpose domain.StreamPurpose, configBuffer []byte) (*fec.Decoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dec, ok := s.fecDecoders[purpose]; ok {
		return dec, nil
	}
	engine, err := s.params.FecEngine.NewChunkDecoder(configBuffer)
	if err != nil {
		return nil, err
	}
	dec := fec.NewDecoder(engine)
	s.fecDecoders[purpose] = dec
	return dec, nil
}

func (s *Subscriber) decode(purpose domain.StreamPurpose, data []byte, tsUs int64, isKey bool) {
	var err error
	if purpose.IsAudio() {
		err = s.params.AudioDecoder.Decode(data, tsUs, isKey)
	} else {
		err = s.params.VideoDecoder.Decode(data, tsUs, isKey)
	}
	if err != nil {
		// Accepted data loss: count it and keep the channel alive.
		s.decodeFailures.Inc()
		s.packetsDropped.Inc()
	}
}

func (s *Subscriber) onVideoFrame(frame ports.RawFrame) {
	s.params.Sink.RenderVideo(frame)
}

func (s *Subscriber) onAudioFrame(frame ports.RawFrame) {
	if s.muted.Load() {
		return
	}
	s.params.Sink.RenderAudio(frame)
}

// fail moves to the terminal Failed state from Starting or Started.
func (s *Subscriber) fail(err error) {
	state := s.State()
	if state != SubscriberStarting && state != SubscriberStarted {
		return
	}
	s.state.Store(int32(SubscriberFailed))
	s.logger.Error("subscriber failed", zap.Error(err))
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	channels := make([]*protocol.StreamChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
	if s.params.VideoDecoder != nil {
		s.params.VideoDecoder.Close()
	}
	if s.params.AudioDecoder != nil {
		s.params.AudioDecoder.Close()
	}
	s.notify(domain.StatusFailed)
}

func (s *Subscriber) notify(status domain.ConnectionStatus) {
	if s.params.OnStatus != nil {
		s.params.OnStatus(status)
	}
}

// purposeForQuality maps a render quality to its camera sub-stream.
func purposeForQuality(q domain.VideoQuality) domain.StreamPurpose {
	if q == domain.QualityLow {
		return domain.PurposeCameraLow
	}
	return domain.PurposeCameraHigh
}
