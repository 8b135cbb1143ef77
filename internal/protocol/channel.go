package protocol

import (
	"context"
	"sync"

	"github.com/frostbyte73/core"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

// InboundPacket is one de-framed unit delivered by a channel's receive loop.
type InboundPacket struct {
	TimestampMs uint32
	Type        PacketType
	Payload     []byte
}

// StreamChannel owns one bidirectional byte stream for one media purpose. It
// enforces the configuration gate on both directions: no media packet is sent
// or accepted before the channel's decoder configuration has been exchanged.
//
// One writer per channel; concurrent senders must be serialized by the owner.
type StreamChannel struct {
	purpose domain.StreamPurpose
	stream  ports.Stream
	logger  *zap.Logger

	configSent     atomic.Bool
	configAccepted atomic.Bool

	baseOnce sync.Once
	baseMs   atomic.Int64

	inbound chan InboundPacket
	closed  core.Fuse

	unconfiguredDrops atomic.Uint64
	protocolDrops     atomic.Uint64
}

// NewStreamChannel wraps an established transport stream. Start must be
// called to run the receive loop; send-only channels may skip it.
func NewStreamChannel(purpose domain.StreamPurpose, stream ports.Stream, queueSize int, logger *zap.Logger) *StreamChannel {
	return &StreamChannel{
		purpose: purpose,
		stream:  stream,
		logger:  logger.With(zap.String("channel", string(purpose))),
		inbound: make(chan InboundPacket, queueSize),
	}
}

// Purpose returns the channel's media purpose.
func (c *StreamChannel) Purpose() domain.StreamPurpose { return c.purpose }

// ConfigSent reports whether this channel's decoder configuration went out.
func (c *StreamChannel) ConfigSent() bool { return c.configSent.Load() }

// ConfigAccepted reports whether a config unit has been accepted inbound.
func (c *StreamChannel) ConfigAccepted() bool { return c.configAccepted.Load() }

// UnconfiguredDrops returns how many units were dropped while unconfigured.
func (c *StreamChannel) UnconfiguredDrops() uint64 { return c.unconfiguredDrops.Load() }

// PinBase fixes the channel's timestamp base explicitly so several channels
// of one session share a reference point. No-op once the base is set. Once
// blocks concurrent first senders until the winning base is visible.
func (c *StreamChannel) PinBase(absMs int64) {
	c.baseOnce.Do(func() { c.baseMs.Store(absMs) })
}

// relativeTimestamp fixes the channel's base at the first frame and expresses
// every later timestamp as an offset from it.
func (c *StreamChannel) relativeTimestamp(absMs int64) int64 {
	c.PinBase(absMs)
	return absMs - c.baseMs.Load()
}

// SendPacket frames and sends one media unit. Before the configuration has
// been sent it fails with domain.ErrConfigNotReady; callers drop, not queue.
func (c *StreamChannel) SendPacket(ctx context.Context, payload []byte, absTimestampMs int64, t PacketType) error {
	if c.closed.IsBroken() {
		return domain.ErrChannelClosed
	}
	if !t.IsConfig() && !c.configSent.Load() {
		return domain.ErrConfigNotReady
	}

	frame := EncodePacket(payload, c.relativeTimestamp(absTimestampMs), t)
	if err := c.stream.WriteUnit(ctx, frame); err != nil {
		return err
	}
	return nil
}

// SendConfig sends the one-time decoder-configuration JSON behind an
// Other-typed header and opens the gate for media packets.
func (c *StreamChannel) SendConfig(ctx context.Context, body []byte, absTimestampMs int64) error {
	if c.closed.IsBroken() {
		return domain.ErrChannelClosed
	}
	frame := EncodePacket(body, c.relativeTimestamp(absTimestampMs), PacketOther)
	if err := c.stream.WriteUnit(ctx, frame); err != nil {
		return err
	}
	c.configSent.Store(true)
	return nil
}

// Start runs the receive loop until the stream closes or ctx is cancelled.
// Units arriving before the config unit are dropped, not queued.
func (c *StreamChannel) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Inbound yields accepted units in stream order. Closed when the channel
// stops.
func (c *StreamChannel) Inbound() <-chan InboundPacket { return c.inbound }

func (c *StreamChannel) readLoop(ctx context.Context) {
	defer close(c.inbound)

	for {
		unit, err := c.stream.ReadUnit(ctx)
		if err != nil {
			if !c.closed.IsBroken() && ctx.Err() == nil {
				c.logger.Warn("receive loop ended", zap.Error(err))
			}
			return
		}

		ts, t, payload, err := DecodePacket(unit)
		if err != nil {
			// Malformed unit: log, drop, keep the stream open.
			c.protocolDrops.Inc()
			c.logger.Warn("dropping malformed packet", zap.Int("len", len(unit)))
			continue
		}

		if t.IsConfig() {
			if !c.configAccepted.CompareAndSwap(false, true) {
				// At most one live config per channel lifetime.
				c.logger.Warn("dropping duplicate config unit")
				continue
			}
		} else if !c.configAccepted.Load() {
			c.unconfiguredDrops.Inc()
			continue
		}

		pkt := InboundPacket{TimestampMs: ts, Type: t, Payload: payload}
		select {
		case c.inbound <- pkt:
		case <-ctx.Done():
			return
		case <-c.closed.Watch():
			return
		}
	}
}

// Close is idempotent and releases the underlying stream.
func (c *StreamChannel) Close() error {
	var err error
	c.closed.Once(func() {
		err = c.stream.Close()
	})
	return err
}
