// Package webrtc adapts pion data channels to the transport port. Every
// stream purpose maps to one ordered reliable data channel whose label is
// the purpose, so the far side can identify a sub-stream without an
// in-band handshake.
package webrtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

const streamQueue = 256

// Transport wraps one peer connection. It implements ports.Transport.
type Transport struct {
	pc     *webrtc.PeerConnection
	accept chan accepted
	logger *zap.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

type accepted struct {
	purpose domain.StreamPurpose
	stream  *stream
}

// NewTransport wraps an established peer connection. Remotely opened data
// channels become acceptable streams keyed on their label.
func NewTransport(pc *webrtc.PeerConnection, logger *zap.Logger) *Transport {
	t := &Transport{
		pc:     pc,
		accept: make(chan accepted, 16),
		logger: logger.Named("webrtc"),
		done:   make(chan struct{}),
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s := newStream(dc, t.logger)
		select {
		case t.accept <- accepted{purpose: domain.StreamPurpose(dc.Label()), stream: s}:
		case <-t.done:
			dc.Close()
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.Close()
		}
	})
	return t
}

// OpenStream creates one ordered reliable data channel labeled with the
// purpose and waits for it to open.
func (t *Transport) OpenStream(ctx context.Context, purpose domain.StreamPurpose) (ports.Stream, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrChannelClosed
	}
	t.mu.Unlock()

	ordered := true
	dc, err := t.pc.CreateDataChannel(string(purpose), &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	s := newStream(dc, t.logger)

	select {
	case <-s.opened:
		return s, nil
	case <-s.done:
		return nil, domain.ErrChannelClosed
	case <-t.done:
		dc.Close()
		return nil, domain.ErrChannelClosed
	case <-ctx.Done():
		dc.Close()
		return nil, ctx.Err()
	}
}

// AcceptStream blocks for the next remotely opened data channel.
func (t *Transport) AcceptStream(ctx context.Context) (domain.StreamPurpose, ports.Stream, error) {
	select {
	case acc := <-t.accept:
		return acc.purpose, acc.stream, nil
	case <-t.done:
		return "", nil, domain.ErrChannelClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Close tears down the peer connection and every stream on it.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	return t.pc.Close()
}

// stream is one data channel. Units map 1:1 onto data-channel messages, so
// framing comes for free.
type stream struct {
	dc     *webrtc.DataChannel
	in     chan []byte
	opened chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newStream(dc *webrtc.DataChannel, logger *zap.Logger) *stream {
	s := &stream{
		dc:     dc,
		in:     make(chan []byte, streamQueue),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	dc.OnOpen(func() { close(s.opened) })
	dc.OnClose(func() { s.close() })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case s.in <- msg.Data:
		case <-s.done:
		default:
			// Receiver backlog. Dropping here mirrors a lossy network;
			// FEC and keyframe recovery cover it.
			s.logger.Warn("inbound queue full, dropping unit", zap.String("channel", dc.Label()))
		}
	})
	return s
}

func (s *stream) WriteUnit(ctx context.Context, unit []byte) error {
	select {
	case <-s.done:
		return domain.ErrChannelClosed
	default:
	}
	if err := s.dc.Send(unit); err != nil {
		return domain.ErrChannelClosed
	}
	return nil
}

func (s *stream) ReadUnit(ctx context.Context) ([]byte, error) {
	select {
	case unit := <-s.in:
		return unit, nil
	default:
	}
	select {
	case unit := <-s.in:
		return unit, nil
	case <-s.done:
		return nil, domain.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.close()
	return s.dc.Close()
}

func (s *stream) close() {
	s.once.Do(func() { close(s.done) })
}
