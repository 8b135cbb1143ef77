package media

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/fec"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/protocol"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/utils"
)

// PublisherOptions tunes one publishing session.
type PublisherOptions struct {
	StreamID            domain.StreamID
	MTU                 uint16
	RepairCount         uint32
	BacklogLimit        int
	QueueSize           int
	SendRateLimit       float64 // packets per second, 0 disables pacing
	SendBurst           int
	AudioChunkDuration  time.Duration // fixed audio send interval, 0 sends on encoder callbacks
	ScreenConfigTimeout time.Duration

	// FecEngine enables forward error correction on media sub-streams when
	// non-nil.
	FecEngine ports.FecEngine

	// OnTransportError is invoked once per failed channel write, after the
	// unit has been counted as lost. Optional.
	OnTransportError func(purpose domain.StreamPurpose, err error)
}

// Publisher owns the local participant's outbound media: one control stream
// plus one StreamChannel per active sub-stream. Each sub-stream runs capture
// encode, codec negotiation, optional FEC, packet framing, and channel send.
type Publisher struct {
	opts      PublisherOptions
	transport ports.Transport
	clock     *SyncClock
	logger    *zap.Logger
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	control   ports.Stream
	controlWr sync.Mutex
	tracks    map[domain.StreamPurpose]*track
	screenNeg *protocol.ScreenShareNegotiator

	stopped core.Fuse

	packetsSent   atomic.Uint64
	framesDropped atomic.Uint64
	sendFailures  atomic.Uint64
}

type track struct {
	purpose    domain.StreamPurpose
	channel    *protocol.StreamChannel
	negotiator *protocol.Negotiator
	session    ports.EncoderSession
	fec        *fec.Encoder
	pacer      *audioPacer
	lastTsUs   atomic.Int64
}

// audioPacer releases encoded audio on a fixed chunk interval so the send
// cadence follows the session clock rather than capture callback timing.
type audioPacer struct {
	interval time.Duration
	queue    chan domain.EncodedChunk
	stopped  core.Fuse
}

func newAudioPacer(interval time.Duration, depth int) *audioPacer {
	if depth < 1 {
		depth = 1
	}
	return &audioPacer{interval: interval, queue: make(chan domain.EncodedChunk, depth)}
}

// Offer enqueues one chunk for the next tick. A full queue rejects the
// chunk; the caller counts the drop.
func (a *audioPacer) Offer(chunk domain.EncodedChunk) bool {
	select {
	case a.queue <- chunk:
		return true
	default:
		return false
	}
}

func (a *audioPacer) run(ctx context.Context, send func(domain.EncodedChunk)) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped.Watch():
			return
		case <-ticker.C:
			select {
			case chunk := <-a.queue:
				send(chunk)
			default:
			}
		}
	}
}

func (a *audioPacer) stop() { a.stopped.Break() }

// NewPublisher builds a publisher over an established transport. Start must
// be called before tracks are added.
func NewPublisher(transport ports.Transport, clock *SyncClock, opts PublisherOptions, logger *zap.Logger) *Publisher {
	p := &Publisher{
		opts:      opts,
		transport: transport,
		clock:     clock,
		logger:    logger.With(zap.String("stream_id", string(opts.StreamID))),
		tracks:    make(map[domain.StreamPurpose]*track),
	}
	if opts.SendRateLimit > 0 {
		burst := opts.SendBurst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.SendRateLimit), burst)
	}
	return p
}

// Start opens the control stream. Meeting events sent before Start are
// dropped with a log line, never queued.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	control, err := p.transport.OpenStream(p.ctx, domain.PurposeEvent)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.control = control
	p.mu.Unlock()
	return nil
}

// AddTrack starts publishing one camera or microphone sub-stream. template
// carries the codec parameters known from capture settings; session is the
// platform encoder delivering output asynchronously.
func (p *Publisher) AddTrack(purpose domain.StreamPurpose, template domain.DecoderConfig, session ports.EncoderSession) error {
	if p.stopped.IsBroken() {
		return domain.ErrChannelClosed
	}

	t, err := p.newTrack(purpose, session)
	if err != nil {
		return err
	}

	mediaType := domain.MediaTypeVideo
	if purpose.IsAudio() {
		mediaType = domain.MediaTypeAudio
	}
	publish := protocol.StandalonePublisher(string(purpose), mediaType, func(ctx context.Context, body []byte) error {
		return t.channel.SendConfig(ctx, body, p.clock.RelativeMs(t.lastTsUs.Load()))
	})
	t.negotiator = protocol.NewNegotiator(string(purpose), mediaType, template, publish, p.logger)

	return p.startTrack(t)
}

// StartScreenShare opens the screen sub-stream pair. audioSession may be nil
// for a video-only share. The combined decoder-config message is withheld
// until both sub-streams produced their configs, with a timeout fallback to
// video-only when the audio config never materializes.
func (p *Publisher) StartScreenShare(videoTemplate domain.DecoderConfig, videoSession ports.EncoderSession, audioTemplate domain.DecoderConfig, audioSession ports.EncoderSession) error {
	if p.stopped.IsBroken() {
		return domain.ErrChannelClosed
	}

	video, err := p.newTrack(domain.PurposeScreen, videoSession)
	if err != nil {
		return err
	}
	var audio *track
	if audioSession != nil {
		audio, err = p.newTrack(domain.PurposeScreenAudio, audioSession)
		if err != nil {
			video.channel.Close()
			return err
		}
	}

	// Both channels carry the same combined config unit so each receive
	// gate opens on one complete message.
	sendCombined := func(ctx context.Context, body []byte) error {
		if err := video.channel.SendConfig(ctx, body, p.clock.RelativeMs(video.lastTsUs.Load())); err != nil {
			return err
		}
		if audio != nil {
			return audio.channel.SendConfig(ctx, body, p.clock.RelativeMs(audio.lastTsUs.Load()))
		}
		return nil
	}

	neg := protocol.NewScreenShareNegotiator(string(domain.PurposeScreen), audio != nil, p.opts.ScreenConfigTimeout, sendCombined, p.logger)

	video.negotiator = protocol.NewNegotiator(string(domain.PurposeScreen), domain.MediaTypeVideo, videoTemplate, neg.VideoPublisher(), p.logger)
	neg.Gate(video.negotiator)
	if audio != nil {
		audio.negotiator = protocol.NewNegotiator(string(domain.PurposeScreenAudio), domain.MediaTypeAudio, audioTemplate, neg.AudioPublisher(), p.logger)
		neg.Gate(audio.negotiator)
	}

	p.mu.Lock()
	p.screenNeg = neg
	p.mu.Unlock()

	if err := p.startTrack(video); err != nil {
		return err
	}
	if audio != nil {
		if err := p.startTrack(audio); err != nil {
			p.RemoveTrack(domain.PurposeScreen)
			return err
		}
	}
	return nil
}

// StopScreenShare tears down the screen sub-stream pair.
func (p *Publisher) StopScreenShare() {
	p.RemoveTrack(domain.PurposeScreen)
	p.RemoveTrack(domain.PurposeScreenAudio)
	p.mu.Lock()
	p.screenNeg = nil
	p.mu.Unlock()
}

// RemoveTrack stops one sub-stream: the encoder is flushed so a final
// keyframe is not lost, then the channel closes.
func (p *Publisher) RemoveTrack(purpose domain.StreamPurpose) {
	p.mu.Lock()
	t, ok := p.tracks[purpose]
	delete(p.tracks, purpose)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.closeTrack(t)
}

// SendMeetingEvent broadcasts one meeting-control message. It is a no-op
// before the control stream opens; callers never fail on a race with Start.
func (p *Publisher) SendMeetingEvent(ctx context.Context, eventType string, target domain.StreamID) error {
	p.mu.Lock()
	control := p.control
	p.mu.Unlock()
	if control == nil || p.stopped.IsBroken() {
		p.logger.Info("control stream not open, dropping meeting event",
			zap.String("event", eventType))
		return nil
	}

	evt := protocol.MeetingEvent{
		Type:           eventType,
		SenderStreamID: string(p.opts.StreamID),
		TargetStreamID: string(target),
		Timestamp:      utils.NowMillis(),
	}
	body, err := json.Marshal(&evt)
	if err != nil {
		return err
	}

	p.controlWr.Lock()
	defer p.controlWr.Unlock()
	return control.WriteUnit(ctx, body)
}

// Stop flushes and closes every encoder and channel. Idempotent.
func (p *Publisher) Stop() {
	p.stopped.Once(func() {
		p.mu.Lock()
		tracks := make([]*track, 0, len(p.tracks))
		for _, t := range p.tracks {
			tracks = append(tracks, t)
		}
		p.tracks = make(map[domain.StreamPurpose]*track)
		control := p.control
		p.control = nil
		p.mu.Unlock()

		for _, t := range tracks {
			p.closeTrack(t)
		}
		if control != nil {
			control.Close()
		}
		if p.cancel != nil {
			p.cancel()
		}
	})
}

// PacketsSent returns the number of media packets written.
func (p *Publisher) PacketsSent() uint64 { return p.packetsSent.Load() }

// FramesDropped returns the number of frames dropped to encoder backlog.
func (p *Publisher) FramesDropped() uint64 { return p.framesDropped.Load() }

// SendFailures returns the number of channel writes that failed.
func (p *Publisher) SendFailures() uint64 { return p.sendFailures.Load() }

func (p *Publisher) newTrack(purpose domain.StreamPurpose, session ports.EncoderSession) (*track, error) {
	stream, err := p.transport.OpenStream(p.ctx, purpose)
	if err != nil {
		return nil, err
	}

	ch := protocol.NewStreamChannel(purpose, stream, p.opts.QueueSize, p.logger)
	ch.PinBase(0) // timestamps are already session-relative via SyncClock

	t := &track{
		purpose: purpose,
		channel: ch,
		session: session,
	}
	if p.opts.FecEngine != nil {
		t.fec = fec.NewEncoder(p.opts.FecEngine, p.opts.MTU, p.opts.RepairCount)
	}
	if purpose.IsAudio() && p.opts.AudioChunkDuration > 0 {
		t.pacer = newAudioPacer(p.opts.AudioChunkDuration, p.opts.QueueSize)
	}
	return t, nil
}

func (p *Publisher) startTrack(t *track) error {
	p.mu.Lock()
	if _, exists := p.tracks[t.purpose]; exists {
		p.mu.Unlock()
		t.channel.Close()
		return domain.ErrTrackExists
	}
	p.tracks[t.purpose] = t
	p.mu.Unlock()

	if err := t.session.Start(p.ctx, p.onEncoderOutput(t)); err != nil {
		p.mu.Lock()
		delete(p.tracks, t.purpose)
		p.mu.Unlock()
		t.channel.Close()
		return err
	}
	if t.pacer != nil {
		go t.pacer.run(p.ctx, func(chunk domain.EncodedChunk) { p.sendChunk(t, chunk) })
	}
	return nil
}

// onEncoderOutput is the per-track encode callback: backlog drop, codec
// negotiation gate, FEC, framing, send.
func (p *Publisher) onEncoderOutput(t *track) func(domain.EncodedChunk, *domain.DecoderConfig) {
	return func(chunk domain.EncodedChunk, meta *domain.DecoderConfig) {
		if p.stopped.IsBroken() {
			return
		}
		t.lastTsUs.Store(chunk.TimestampUs)

		// Favor currency over completeness: drop, never queue, when the
		// encoder falls behind.
		if t.session.QueueDepth() > p.opts.BacklogLimit {
			p.framesDropped.Inc()
			return
		}

		if !t.negotiator.OnEncoderOutput(p.ctx, chunk, meta) {
			return
		}
		if t.pacer != nil {
			if !t.pacer.Offer(chunk) {
				p.framesDropped.Inc()
			}
			return
		}
		p.sendChunk(t, chunk)
	}
}

func (p *Publisher) sendChunk(t *track, chunk domain.EncodedChunk) {
	relMs := p.clock.RelativeMs(chunk.TimestampUs)
	pt := packetTypeFor(t.purpose, chunk.IsKey)

	if t.fec == nil {
		p.sendPacket(t, chunk.Data, relMs, pt)
		return
	}

	encoded, err := t.fec.EncodeChunk(chunk.Data)
	if err != nil {
		p.logger.Warn("fec encode failed, dropping chunk",
			zap.String("channel", string(t.purpose)), zap.Error(err))
		return
	}
	for _, symbol := range encoded.Symbols {
		p.sendPacket(t, fec.WrapSymbol(encoded.ChunkID, encoded.ConfigBuffer, symbol), relMs, pt)
	}
}

func (p *Publisher) sendPacket(t *track, payload []byte, relMs int64, pt protocol.PacketType) {
	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}
	}
	if err := t.channel.SendPacket(p.ctx, payload, relMs, pt); err != nil {
		p.sendFailures.Inc()
		if p.opts.OnTransportError != nil {
			p.opts.OnTransportError(t.purpose, err)
		}
		return
	}
	p.packetsSent.Inc()
}

func (p *Publisher) closeTrack(t *track) {
	if t.pacer != nil {
		t.pacer.stop()
	}
	if err := t.session.Flush(); err != nil {
		p.logger.Warn("encoder flush failed", zap.String("channel", string(t.purpose)), zap.Error(err))
	}
	if err := t.session.Close(); err != nil {
		p.logger.Warn("encoder close failed", zap.String("channel", string(t.purpose)), zap.Error(err))
	}
	t.channel.Close()
}

// packetTypeFor maps a sub-stream purpose and key flag to the wire type.
func packetTypeFor(purpose domain.StreamPurpose, isKey bool) protocol.PacketType {
	switch purpose {
	case domain.PurposeCameraLow:
		if isKey {
			return protocol.PacketVideoLowKey
		}
		return protocol.PacketVideoLowDelta
	case domain.PurposeCameraHigh:
		if isKey {
			return protocol.PacketVideoHighKey
		}
		return protocol.PacketVideoHighDelta
	case domain.PurposeScreen:
		if isKey {
			return protocol.PacketScreenKey
		}
		return protocol.PacketScreenDelta
	default:
		return protocol.PacketAudio
	}
}
