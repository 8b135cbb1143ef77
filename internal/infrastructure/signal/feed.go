// Package signal implements the websocket event feed: the server-push
// connection that carries room events (join/leave, media flags, pin, chat,
// typing). One connection serves one room.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
)

// FeedOptions configures one feed connection.
type FeedOptions struct {
	// URL is the websocket endpoint, e.g. ws://host/events.
	URL          string
	Token        string
	RoomID       domain.RoomID
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// QueueSize bounds the inbound event channel.
	QueueSize int
}

// Feed is a websocket ports.EventFeed. Events stream on a bounded channel
// that closes when the connection drops; reconnection policy belongs to the
// session, not here.
type Feed struct {
	opts   FeedOptions
	logger *zap.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serializes data writes; gorilla allows one writer

	conn   *websocket.Conn
	events chan ports.SignalEvent
	done   chan struct{}
	closed bool
}

// NewFeed builds an unconnected feed.
func NewFeed(opts FeedOptions, logger *zap.Logger) *Feed {
	if opts.PingInterval == 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 64
	}
	return &Feed{
		opts:   opts,
		logger: logger.Named("signal").With(zap.String("room_id", string(opts.RoomID))),
	}
}

// Connect dials the endpoint and starts the read pump. A feed that was
// closed or dropped can be connected again; the event channel is replaced.
func (f *Feed) Connect(ctx context.Context) error {
	header := map[string][]string{
		"Authorization": {"Bearer " + f.opts.Token},
	}
	url := f.opts.URL + "?room_id=" + string(f.opts.RoomID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return apperrors.NewTransportError("event feed dial failed", err)
	}

	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.conn = conn
	f.closed = false
	f.events = make(chan ports.SignalEvent, f.opts.QueueSize)
	f.done = make(chan struct{})
	events, done := f.events, f.done
	f.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(f.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.opts.PongTimeout))
		return nil
	})

	go f.readPump(conn, events, done)
	go f.pingLoop(conn, done)
	return nil
}

// Events yields server-pushed events until the connection drops.
func (f *Feed) Events() <-chan ports.SignalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

// Send publishes one client-originated event to the room.
func (f *Feed) Send(ctx context.Context, event ports.SignalEvent) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return domain.ErrChannelClosed
	}

	deadline := time.Now().Add(f.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(&event); err != nil {
		return apperrors.NewTransportError("event feed send failed", err)
	}
	return nil
}

// Close tears the connection down and closes the event channel.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.conn != nil {
		f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		f.conn.Close()
		f.conn = nil
	}
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

// readPump decodes inbound events until the connection fails, then closes
// the event channel so the session notices the drop.
func (f *Feed) readPump(conn *websocket.Conn, events chan ports.SignalEvent, done chan struct{}) {
	defer close(events)
	for {
		var event ports.SignalEvent
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-done:
			default:
				f.logger.Warn("event feed read failed", zap.Error(err))
			}
			return
		}
		select {
		case events <- event:
		case <-done:
			return
		default:
			// A stalled consumer costs this event, not the connection.
			// Drop the newest and log.
			f.logger.Warn("event queue full, dropping event", zap.String("type", event.Type))
		}
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(f.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.opts.WriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
