package services

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/media"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/config"
	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
)

// EventFeedFactory builds the server-push event connection for one room.
type EventFeedFactory func(token string, roomID domain.RoomID) ports.EventFeed

// ClientDeps are the collaborators the facade wires rooms from.
type ClientDeps struct {
	API    ports.ControlPlane
	Auth   ports.Authenticator
	Dialer ports.TransportDialer
	Media  ports.MediaProvider
	Feeds  EventFeedFactory

	// FecEngine enables forward error correction on media channels when
	// non-nil.
	FecEngine ports.FecEngine
}

// Client is the application-facing facade: authentication, room creation and
// join, session events, and the bounded reconnection policy.
type Client struct {
	cfg    *config.Config
	deps   ClientDeps
	logger *zap.Logger

	token atomic.String

	mu        sync.Mutex
	rooms     map[domain.RoomID]*Room
	listeners []func(domain.ClientEvent)

	reconnecting      atomic.Bool
	reconnectAttempts atomic.Uint64
}

// NewClient builds the facade.
func NewClient(cfg *config.Config, deps ClientDeps, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// OnEvent registers a session-event listener.
func (c *Client) OnEvent(fn func(domain.ClientEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Authenticate exchanges credentials for a bearer token and caches it.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.deps.Auth.Authenticate(ctx)
	if err != nil {
		return apperrors.NewAuthenticationError(err.Error())
	}
	c.token.Store(token)
	return nil
}

// ensureToken re-authenticates when no token is cached or the cached one has
// expired. Tokens without an exp claim are treated as non-expiring.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	token := c.token.Load()
	if token != "" && !tokenExpired(token) {
		return token, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	return c.token.Load(), nil
}

// tokenExpired inspects the exp claim without verifying the signature; the
// server is the authority, this only avoids a call that is known to fail.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

// CreateRoom creates a room on the control plane.
func (c *Client) CreateRoom(ctx context.Context, name string) (*ports.RoomInfo, error) {
	if _, err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	return c.deps.API.CreateRoom(ctx, name)
}

// JoinRoom joins a room by code and brings up its whole media plane.
func (c *Client) JoinRoom(ctx context.Context, code string, userID domain.UserID) (*Room, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.deps.API.JoinByCode(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	room := NewRoom(result.Room, RoomDeps{
		API:    c.deps.API,
		Feed:   c.deps.Feeds(token, result.Room.ID),
		Dialer: c.deps.Dialer,
		Media:  c.deps.Media,
	}, c.roomOptions(), c.logger)

	if err := room.establish(ctx, userID, token, result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.rooms[room.ID()] = room
	c.mu.Unlock()

	c.emit(domain.ClientEvent{Kind: domain.ClientRoomJoined, RoomID: room.ID(), At: time.Now()})
	return room, nil
}

// LeaveRoom leaves a joined room and forgets it. Local teardown completes
// even when the control-plane call fails; the error is still returned.
func (c *Client) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	c.mu.Lock()
	room, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if !ok {
		return domain.ErrRoomNotFound
	}

	err := room.Leave(ctx)
	c.emit(domain.ClientEvent{Kind: domain.ClientRoomLeft, RoomID: roomID, At: time.Now()})
	return err
}

// Room returns a joined room.
func (c *Client) Room(roomID domain.RoomID) (*Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Reconnect re-establishes one room's media plane with a bounded retry loop:
// a fixed number of attempts with a fixed delay in between, re-running
// authentication each time. Not re-entrant; a second call while one is in
// flight fails immediately. After the budget is spent a single terminal
// reconnection-exhausted event is emitted.
func (c *Client) Reconnect(ctx context.Context, roomID domain.RoomID) error {
	room, err := c.Room(roomID)
	if err != nil {
		return err
	}

	if !c.reconnecting.CompareAndSwap(false, true) {
		return domain.ErrReconnectInProgress
	}
	defer c.reconnecting.Store(false)

	attempts := c.cfg.Client.ReconnectAttempts
	delay := c.cfg.Client.ReconnectDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.reconnectAttempts.Inc()
		c.emit(domain.ClientEvent{Kind: domain.ClientReconnecting, RoomID: roomID, Attempt: attempt, At: time.Now()})

		if lastErr = c.reconnectOnce(ctx, room); lastErr == nil {
			c.emit(domain.ClientEvent{Kind: domain.ClientConnected, RoomID: roomID, At: time.Now()})
			return nil
		}
		c.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt), zap.Error(lastErr))

		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts // spend the budget, fall through to terminal
			}
		}
	}

	err = apperrors.NewReconnectionExhaustedError(attempts, lastErr)
	c.emit(domain.ClientEvent{Kind: domain.ClientReconnectionExhausted, RoomID: roomID, Err: err, At: time.Now()})
	return err
}

func (c *Client) reconnectOnce(ctx context.Context, room *Room) error {
	// Always re-run authentication; the old token may be the reason the
	// connection dropped.
	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	return room.Rejoin(ctx, c.token.Load())
}

// ReconnectAttempts returns the lifetime count of reconnect attempts.
func (c *Client) ReconnectAttempts() uint64 { return c.reconnectAttempts.Load() }

// Close leaves every joined room and drops session state.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.rooms = make(map[domain.RoomID]*Room)
	c.mu.Unlock()

	for _, room := range rooms {
		if err := room.Leave(ctx); err != nil {
			c.logger.Warn("leave during close failed", zap.String("room_id", string(room.ID())), zap.Error(err))
		}
	}
	c.emit(domain.ClientEvent{Kind: domain.ClientDisconnected, At: time.Now()})
}

func (c *Client) roomOptions() RoomOptions {
	return RoomOptions{
		PinLocalOnUnpin:    c.cfg.Room.PinLocalOnUnpin,
		TypingStopDebounce: c.cfg.Room.TypingStopDebounce,
		ChannelQueueSize:   c.cfg.Session.ChannelQueueSize,
		FecEngine:          c.deps.FecEngine,
		PublisherOptions: media.PublisherOptions{
			MTU:                 uint16(c.cfg.Session.MTU),
			RepairCount:         uint32(c.cfg.Session.RepairCount),
			BacklogLimit:        c.cfg.Session.EncoderBacklogLimit,
			QueueSize:           c.cfg.Session.ChannelQueueSize,
			SendRateLimit:       c.cfg.Session.SendRateLimit,
			SendBurst:           c.cfg.Session.SendBurst,
			AudioChunkDuration:  c.cfg.Session.AudioChunkDuration,
			ScreenConfigTimeout: c.cfg.Codec.ScreenConfigTimeout,
		},
	}
}

func (c *Client) emit(evt domain.ClientEvent) {
	c.mu.Lock()
	listeners := append([](func(domain.ClientEvent))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}
