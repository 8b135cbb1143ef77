// Package memory provides an in-process Transport pair used by tests and
// local wiring. Streams are ordered, reliable and length-framed by
// construction.
package memory

import (
	"context"
	"sync"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

const streamBuffer = 256

// NewPair returns two connected transports. Streams opened on one side are
// accepted on the other with the same purpose.
func NewPair() (ports.Transport, ports.Transport) {
	a := &transport{accept: make(chan accepted, 16), done: make(chan struct{})}
	b := &transport{accept: make(chan accepted, 16), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

type accepted struct {
	purpose domain.StreamPurpose
	stream  *stream
}

type transport struct {
	peer   *transport
	accept chan accepted

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func (t *transport) OpenStream(ctx context.Context, purpose domain.StreamPurpose) (ports.Stream, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrChannelClosed
	}
	t.mu.Unlock()

	toPeer := make(chan []byte, streamBuffer)
	fromPeer := make(chan []byte, streamBuffer)
	closed := make(chan struct{})

	local := &stream{out: toPeer, in: fromPeer, closed: closed}
	remote := &stream{out: fromPeer, in: toPeer, closed: closed}

	select {
	case t.peer.accept <- accepted{purpose: purpose, stream: remote}:
		return local, nil
	case <-t.peer.done:
		return nil, domain.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *transport) AcceptStream(ctx context.Context) (domain.StreamPurpose, ports.Stream, error) {
	select {
	case acc := <-t.accept:
		return acc.purpose, acc.stream, nil
	case <-t.done:
		return "", nil, domain.ErrChannelClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (t *transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

type stream struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func (s *stream) WriteUnit(ctx context.Context, unit []byte) error {
	buf := append([]byte(nil), unit...)
	select {
	case <-s.closed:
		return domain.ErrChannelClosed
	default:
	}
	select {
	case s.out <- buf:
		return nil
	case <-s.closed:
		return domain.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stream) ReadUnit(ctx context.Context) ([]byte, error) {
	// Drain buffered units even after close, then report closure.
	select {
	case unit := <-s.in:
		return unit, nil
	default:
	}
	select {
	case unit := <-s.in:
		return unit, nil
	case <-s.closed:
		select {
		case unit := <-s.in:
			return unit, nil
		default:
			return nil, domain.ErrChannelClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
