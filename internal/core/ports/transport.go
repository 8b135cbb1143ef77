package ports

import (
	"context"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

// Stream is one independently flow-controlled, ordered, reliable byte stream
// multiplexed over a single transport connection. Units are length-framed by
// the transport; one writer per stream, callers serialize concurrent writes.
type Stream interface {
	// WriteUnit sends one framed unit in order.
	WriteUnit(ctx context.Context, unit []byte) error
	// ReadUnit blocks for the next framed unit. Returns domain.ErrChannelClosed
	// after the stream is closed.
	ReadUnit(ctx context.Context) ([]byte, error)
	Close() error
}

// Transport multiplexes purpose-tagged streams over one connection. Opening a
// stream sends a one-time channel-identification unit; accepting one consumes
// it and reports the purpose.
type Transport interface {
	OpenStream(ctx context.Context, purpose domain.StreamPurpose) (Stream, error)
	AcceptStream(ctx context.Context) (domain.StreamPurpose, Stream, error)
	Close() error
}

// TransportDialer establishes media-plane connections. An empty target dials
// the publish connection; a remote stream ID dials a subscribe connection for
// that participant's media.
type TransportDialer interface {
	Dial(ctx context.Context, token string, target domain.StreamID) (Transport, error)
}
