package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/utils"
)

// SubRoom is one breakout room hanging off a parent Room. It enforces its
// capacity, counts down its duration from the first join, and on expiry
// warns the room, forces every local occupant back to the main room, and
// cleans itself up.
type SubRoom struct {
	info    ports.SubRoomInfo
	parent  *Room
	warning time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	occupants   map[domain.UserID]struct{}
	duration    time.Duration
	started     bool
	expiresAt   time.Time
	warnTimer   *time.Timer
	expireTimer *time.Timer
	expired     bool

	closed core.Fuse
}

// newSubRoom wires a breakout room under its parent. The expiry countdown is
// not armed here: a limited room starts counting at the first join, so a room
// created ahead of time does not burn its duration standing empty. warning is
// how long before expiry the warning broadcast fires.
func newSubRoom(info ports.SubRoomInfo, parent *Room, warning time.Duration, logger *zap.Logger) *SubRoom {
	return &SubRoom{
		info:      info,
		parent:    parent,
		warning:   warning,
		logger:    logger.With(zap.String("subroom_id", string(info.ID))),
		occupants: make(map[domain.UserID]struct{}),
		duration:  time.Duration(info.DurationMinutes) * time.Minute,
	}
}

// ID returns the breakout room identifier.
func (s *SubRoom) ID() domain.RoomID { return s.info.ID }

// Name returns the breakout room name.
func (s *SubRoom) Name() string { return s.info.Name }

// ExpiresAt returns the current expiry deadline; zero for unlimited rooms
// and for limited rooms nobody has joined yet.
func (s *SubRoom) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// HasExpired reports whether the room's duration has run out.
func (s *SubRoom) HasExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// OccupantCount returns how many local occupants are inside.
func (s *SubRoom) OccupantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.occupants)
}

// Enter moves one local occupant into the breakout room, enforcing capacity
// and expiry. The first successful entry into a limited room starts its
// countdown; later departures and re-entries leave the deadline alone.
func (s *SubRoom) Enter(userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return domain.ErrSubRoomExpired
	}
	if s.info.MaxParticipants > 0 && len(s.occupants) >= s.info.MaxParticipants {
		if _, inside := s.occupants[userID]; !inside {
			return domain.ErrSubRoomFull
		}
	}
	s.occupants[userID] = struct{}{}
	if !s.started && s.duration > 0 {
		s.started = true
		s.armTimersLocked(time.Now().Add(s.duration))
	}
	return nil
}

// ReturnToMainRoom moves one occupant back to the parent room.
func (s *SubRoom) ReturnToMainRoom(userID domain.UserID) {
	s.mu.Lock()
	delete(s.occupants, userID)
	s.mu.Unlock()
}

// ExtendDuration pushes the expiry deadline out by d. Before the countdown
// has started the pending duration stretches instead. The extension must be
// positive; extending an expired room fails.
func (s *SubRoom) ExtendDuration(d time.Duration) error {
	if d <= 0 {
		return apperrors.NewInvalidInputError("extension must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return domain.ErrSubRoomExpired
	}
	if !s.started {
		s.duration += d
		return nil
	}
	s.stopTimersLocked()
	s.armTimersLocked(s.expiresAt.Add(d))
	return nil
}

func (s *SubRoom) armTimersLocked(deadline time.Time) {
	s.expiresAt = deadline

	until := time.Until(deadline)
	if s.warning > 0 && until > s.warning {
		s.warnTimer = time.AfterFunc(until-s.warning, s.onWarning)
	}
	s.expireTimer = time.AfterFunc(until, s.onExpired)
}

func (s *SubRoom) stopTimersLocked() {
	if s.warnTimer != nil {
		s.warnTimer.Stop()
		s.warnTimer = nil
	}
	if s.expireTimer != nil {
		s.expireTimer.Stop()
		s.expireTimer = nil
	}
}

// onWarning broadcasts the expiry warning so occupants can wrap up.
func (s *SubRoom) onWarning() {
	s.broadcast(domain.EventSubRoomExpiring)
	s.parent.emit(domain.RoomEvent{Kind: domain.EventSubRoomExpiring, RoomID: s.info.ID, At: time.Now()})
}

// onExpired runs the full expiry sequence: broadcast, force every local
// occupant back to the main room, then detach from the parent registry.
func (s *SubRoom) onExpired() {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	occupants := make([]domain.UserID, 0, len(s.occupants))
	for userID := range s.occupants {
		occupants = append(occupants, userID)
	}
	s.mu.Unlock()

	s.broadcast(domain.EventSubRoomExpired)
	for _, userID := range occupants {
		s.ReturnToMainRoom(userID)
	}
	s.cleanup()
	s.parent.emit(domain.RoomEvent{Kind: domain.EventSubRoomExpired, RoomID: s.info.ID, At: time.Now()})
}

func (s *SubRoom) broadcast(kind domain.RoomEventKind) {
	payload, err := json.Marshal(&struct {
		SubRoomID domain.RoomID `json:"subroom_id"`
		Timestamp int64         `json:"timestamp"`
	}{s.info.ID, utils.NowMillis()})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.parent.deps.Feed.Send(ctx, ports.SignalEvent{Type: string(kind), RoomID: string(s.parent.id), Payload: payload}); err != nil {
		s.logger.Warn("subroom broadcast failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// cleanup detaches from the parent's registry and clears timers. Idempotent.
func (s *SubRoom) cleanup() {
	s.closed.Once(func() {
		s.mu.Lock()
		s.stopTimersLocked()
		s.mu.Unlock()
		s.parent.detachSubRoom(s.info.ID)
	})
}

// CreateSubRoom creates a breakout room under this room and tracks it.
func (r *Room) CreateSubRoom(ctx context.Context, opts ports.SubRoomOptions, warning time.Duration) (*SubRoom, error) {
	info, err := r.deps.API.CreateSubRoom(ctx, r.id, opts)
	if err != nil {
		return nil, err
	}

	sub := newSubRoom(*info, r, warning, r.logger)
	r.mu.Lock()
	r.subRooms[info.ID] = sub
	r.mu.Unlock()
	return sub, nil
}

// SubRooms returns the tracked breakout rooms.
func (r *Room) SubRooms() []*SubRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SubRoom, 0, len(r.subRooms))
	for _, sub := range r.subRooms {
		out = append(out, sub)
	}
	return out
}

// SubRoom returns one tracked breakout room.
func (r *Room) SubRoom(id domain.RoomID) (*SubRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subRooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return sub, nil
}

// CloseSubRoom deletes a breakout room on the control plane and locally.
// Local cleanup proceeds even when the API call fails.
func (r *Room) CloseSubRoom(ctx context.Context, id domain.RoomID) error {
	sub, err := r.SubRoom(id)
	if err != nil {
		return err
	}
	sub.cleanup()
	if err := r.deps.API.DeleteSubRoom(ctx, r.id, id); err != nil {
		r.logger.Warn("control-plane subroom delete failed", zap.Error(err))
		return err
	}
	return nil
}

func (r *Room) detachSubRoom(id domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subRooms, id)
}
