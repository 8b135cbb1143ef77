// Package services implements the client-side orchestration layer: room and
// breakout-room lifecycle, roster and pin state, chat relay, and the client
// facade with its bounded reconnection policy.
package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/media"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/protocol"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/utils"
)

// Server-pushed event tags not shared with domain.RoomEventKind.
const (
	feedEventJoin  = "join"
	feedEventLeave = "leave"
)

// RoomOptions tunes room behavior.
type RoomOptions struct {
	// PinLocalOnUnpin re-pins the local participant whenever the pinned
	// participant is cleared, so the stage never goes empty.
	PinLocalOnUnpin    bool
	TypingStopDebounce time.Duration

	PublisherOptions media.PublisherOptions
	ChannelQueueSize int
	FecEngine        ports.FecEngine
}

// RoomDeps are the collaborators one room needs.
type RoomDeps struct {
	API    ports.ControlPlane
	Feed   ports.EventFeed
	Dialer ports.TransportDialer
	Media  ports.MediaProvider
}

// Room is one joined conference room: roster, local publishing, one
// subscriber per remote participant, pin state, and chat relay.
type Room struct {
	id     domain.RoomID
	code   string
	name   string
	deps   RoomDeps
	opts   RoomOptions
	logger *zap.Logger

	mu           sync.Mutex
	joined       bool
	token        string
	local        *domain.Participant
	membershipID domain.MembershipID
	participants map[domain.UserID]*domain.Participant
	subscribers  map[domain.UserID]*media.Subscriber
	pinned       domain.UserID
	subRooms     map[domain.RoomID]*SubRoom

	publisher *media.Publisher
	mixer     *media.AudioMixer

	listeners []func(domain.RoomEvent)

	typingMu      sync.Mutex
	typingActive  bool
	typingBounce  func(func())

}

// NewRoom builds a room from its control-plane description. Join must be
// called before any media flows.
func NewRoom(info ports.RoomInfo, deps RoomDeps, opts RoomOptions, logger *zap.Logger) *Room {
	if opts.TypingStopDebounce <= 0 {
		opts.TypingStopDebounce = 2 * time.Second
	}
	return &Room{
		id:           info.ID,
		code:         info.Code,
		name:         info.Name,
		deps:         deps,
		opts:         opts,
		logger:       logger.With(zap.String("room_id", string(info.ID))),
		participants: make(map[domain.UserID]*domain.Participant),
		subscribers:  make(map[domain.UserID]*media.Subscriber),
		subRooms:     make(map[domain.RoomID]*SubRoom),
		typingBounce: debounce.New(opts.TypingStopDebounce),
	}
}

// ID returns the room identifier.
func (r *Room) ID() domain.RoomID { return r.id }

// Code returns the join code.
func (r *Room) Code() string { return r.code }

// OnEvent registers a room-event listener. Listeners are invoked from the
// dispatch goroutine and must not block.
func (r *Room) OnEvent(fn func(domain.RoomEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Join calls the control plane, builds the roster from its participant list
// (one subscriber per remote), starts the local publisher and connects the
// event feed.
func (r *Room) Join(ctx context.Context, userID domain.UserID, token string) error {
	r.mu.Lock()
	if r.joined {
		r.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	r.mu.Unlock()

	result, err := r.deps.API.JoinByCode(ctx, r.code, userID)
	if err != nil {
		return err
	}
	return r.establish(ctx, userID, token, result)
}

// Rejoin rebuilds the whole media plane after a reconnect: local teardown,
// then the join flow again with a fresh token. Roster state is rebuilt from
// the control plane, not trusted from before the drop.
func (r *Room) Rejoin(ctx context.Context, token string) error {
	r.mu.Lock()
	local := r.local
	r.mu.Unlock()
	if local == nil {
		return domain.ErrNotJoined
	}

	r.teardownMedia()
	r.mu.Lock()
	r.joined = false
	r.mu.Unlock()

	result, err := r.deps.API.JoinByCode(ctx, r.code, local.UserID)
	if err != nil {
		return err
	}
	return r.establish(ctx, local.UserID, token, result)
}

func (r *Room) establish(ctx context.Context, userID domain.UserID, token string, result *ports.JoinResult) error {
	transport, err := r.deps.Dialer.Dial(ctx, token, "")
	if err != nil {
		return err
	}

	clock := media.NewSyncClock()
	pubOpts := r.opts.PublisherOptions
	pubOpts.StreamID = result.StreamID
	pubOpts.FecEngine = r.opts.FecEngine
	publisher := media.NewPublisher(transport, clock, pubOpts, r.logger)
	if err := publisher.Start(ctx); err != nil {
		return err
	}

	local := &domain.Participant{
		UserID:           userID,
		StreamID:         result.StreamID,
		MembershipID:     result.MembershipID,
		Role:             result.Role,
		IsLocal:          true,
		ConnectionStatus: domain.StatusConnected,
		JoinedAt:         time.Now(),
	}

	r.mu.Lock()
	r.joined = true
	r.token = token
	r.local = local
	r.membershipID = result.MembershipID
	r.publisher = publisher
	r.mixer = media.NewAudioMixer(r.deps.Media.AudioGraph(), result.StreamID, r.logger)
	r.participants = map[domain.UserID]*domain.Participant{userID: local}
	r.subscribers = make(map[domain.UserID]*media.Subscriber)
	r.pinned = ""
	r.mu.Unlock()

	for _, info := range result.Room.Participants {
		if info.UserID == userID {
			continue
		}
		if err := r.addRemote(ctx, info); err != nil {
			r.logger.Warn("subscriber setup failed",
				zap.String("user_id", string(info.UserID)), zap.Error(err))
		}
	}

	if err := r.deps.Feed.Connect(ctx); err != nil {
		r.teardownMedia()
		return err
	}
	go r.dispatchLoop()

	r.emit(domain.RoomEvent{Kind: domain.EventParticipantJoined, RoomID: r.id, UserID: userID, Participant: local, At: time.Now()})
	return nil
}

// Leave tears down all media before calling the control-plane leave
// endpoint. A failing API call never prevents local teardown.
func (r *Room) Leave(ctx context.Context) error {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return domain.ErrNotJoined
	}
	r.joined = false
	membershipID := r.membershipID
	r.mu.Unlock()

	r.teardownMedia()

	if err := r.deps.API.Leave(ctx, r.id, membershipID); err != nil {
		r.logger.Warn("control-plane leave failed, local teardown already complete", zap.Error(err))
		return err
	}
	return nil
}

func (r *Room) teardownMedia() {
	r.mu.Lock()
	publisher := r.publisher
	subscribers := make([]*media.Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subscribers = append(subscribers, sub)
	}
	r.subscribers = make(map[domain.UserID]*media.Subscriber)
	r.publisher = nil
	r.mu.Unlock()

	if publisher != nil {
		publisher.Stop()
	}
	for _, sub := range subscribers {
		sub.Stop()
	}
	r.deps.Feed.Close()
}

// addRemote creates and starts one subscriber for a remote participant. The
// subscribe connection opens every sub-stream up front; the server only
// sends on the ones the remote actually publishes.
func (r *Room) addRemote(ctx context.Context, info ports.ParticipantInfo) error {
	r.mu.Lock()
	token := r.token
	mixer := r.mixer
	r.mu.Unlock()

	transport, err := r.deps.Dialer.Dial(ctx, token, info.StreamID)
	if err != nil {
		return err
	}

	videoDec, err := r.deps.Media.NewVideoDecoder(info.StreamID)
	if err != nil {
		return err
	}
	audioDec, err := r.deps.Media.NewAudioDecoder(info.StreamID)
	if err != nil {
		return err
	}
	sink, err := r.deps.Media.NewRenderSink(info.StreamID)
	if err != nil {
		return err
	}

	userID := info.UserID
	sub := media.NewSubscriber(media.SubscriberParams{
		StreamID:     info.StreamID,
		VideoDecoder: videoDec,
		AudioDecoder: audioDec,
		Sink:         sink,
		FecEngine:    r.opts.FecEngine,
		OnStatus:     func(status domain.ConnectionStatus) { r.onSubscriberStatus(userID, status) },
	}, r.logger)

	purposes := []domain.StreamPurpose{
		domain.PurposeCameraHigh, domain.PurposeCameraLow, domain.PurposeMicrophone,
		domain.PurposeScreen, domain.PurposeScreenAudio,
	}
	for _, purpose := range purposes {
		stream, err := transport.OpenStream(ctx, purpose)
		if err != nil {
			return err
		}
		if err := sub.AttachChannel(protocol.NewStreamChannel(purpose, stream, r.opts.ChannelQueueSize, r.logger)); err != nil {
			return err
		}
	}
	if err := sub.Start(ctx); err != nil {
		return err
	}

	participant := &domain.Participant{
		UserID:           info.UserID,
		StreamID:         info.StreamID,
		MembershipID:     info.MembershipID,
		DisplayName:      info.DisplayName,
		Role:             info.Role,
		IsAudioEnabled:   info.IsAudioEnabled,
		IsVideoEnabled:   info.IsVideoEnabled,
		ConnectionStatus: domain.StatusConnected,
		JoinedAt:         time.Now(),
	}

	r.mu.Lock()
	r.participants[info.UserID] = participant
	r.subscribers[info.UserID] = sub
	r.mu.Unlock()

	mixer.AddSubscriber(info.StreamID)
	return nil
}

func (r *Room) removeRemote(userID domain.UserID) {
	r.mu.Lock()
	participant := r.participants[userID]
	sub := r.subscribers[userID]
	delete(r.participants, userID)
	delete(r.subscribers, userID)
	wasPinned := r.pinned == userID
	mixer := r.mixer
	r.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	if participant != nil && mixer != nil {
		mixer.RemoveSubscriber(participant.StreamID)
	}
	if wasPinned {
		r.UnpinParticipant()
	}
}

func (r *Room) onSubscriberStatus(userID domain.UserID, status domain.ConnectionStatus) {
	r.mu.Lock()
	if p, ok := r.participants[userID]; ok {
		p.ConnectionStatus = status
	}
	r.mu.Unlock()
	r.emit(domain.RoomEvent{Kind: domain.EventStatusChanged, RoomID: r.id, UserID: userID, Status: status, At: time.Now()})
}

// Participants returns a snapshot of the roster.
func (r *Room) Participants() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// Participant returns one roster entry by user.
func (r *Room) Participant(userID domain.UserID) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return *p, nil
}

// LocalParticipant returns the local roster entry.
func (r *Room) LocalParticipant() (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		return domain.Participant{}, domain.ErrNotJoined
	}
	return *r.local, nil
}

// Pinned returns the currently pinned user, empty when none.
func (r *Room) Pinned() domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinned
}

// PinParticipant pins one participant locally. Pinning is UI state only; no
// server call is involved.
func (r *Room) PinParticipant(userID domain.UserID) error {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrParticipantNotFound
	}
	for _, other := range r.participants {
		other.IsPinned = false
	}
	p.IsPinned = true
	r.pinned = userID
	participant := *p
	r.mu.Unlock()

	r.emit(domain.RoomEvent{Kind: domain.EventPinned, RoomID: r.id, UserID: userID, Participant: &participant, At: time.Now()})
	return nil
}

// UnpinParticipant clears the pin. Depending on policy the local participant
// takes the stage instead of leaving it empty.
func (r *Room) UnpinParticipant() {
	r.mu.Lock()
	for _, p := range r.participants {
		p.IsPinned = false
	}
	r.pinned = ""
	var fallback domain.UserID
	if r.opts.PinLocalOnUnpin && r.local != nil {
		fallback = r.local.UserID
	}
	r.mu.Unlock()

	r.emit(domain.RoomEvent{Kind: domain.EventUnpinned, RoomID: r.id, At: time.Now()})
	if fallback != "" {
		if err := r.PinParticipant(fallback); err != nil {
			r.logger.Warn("auto-repin of local participant failed", zap.Error(err))
		}
	}
}

// PinForEveryone pins locally and broadcasts the pin as a meeting-control
// event mirrored by every receiver. There is no server-side pin state.
func (r *Room) PinForEveryone(ctx context.Context, userID domain.UserID) error {
	target, err := r.Participant(userID)
	if err != nil {
		return err
	}
	if err := r.PinParticipant(userID); err != nil {
		return err
	}
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	return pub.SendMeetingEvent(ctx, protocol.MeetingPinForEveryone, target.StreamID)
}

// UnpinForEveryone clears the pin locally and broadcasts it.
func (r *Room) UnpinForEveryone(ctx context.Context) error {
	r.UnpinParticipant()
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	return pub.SendMeetingEvent(ctx, protocol.MeetingUnpinForEveryone, "")
}

// Publisher returns the local publishing session, nil before Join.
func (r *Room) Publisher() *media.Publisher { return r.publisherRef() }

// Mixer returns the room's audio mixer, nil before Join.
func (r *Room) Mixer() *media.AudioMixer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mixer
}

// Subscriber returns the subscriber rendering one remote participant.
func (r *Room) Subscriber(userID domain.UserID) (*media.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[userID]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return sub, nil
}

func (r *Room) publisherRef() *media.Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publisher
}

func (r *Room) requirePublisher() (*media.Publisher, error) {
	if pub := r.publisherRef(); pub != nil {
		return pub, nil
	}
	return nil, domain.ErrNotJoined
}

// EnableMicrophone starts the microphone track and announces it.
func (r *Room) EnableMicrophone(ctx context.Context, template domain.DecoderConfig) error {
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	session, err := r.deps.Media.NewEncoderSession(domain.PurposeMicrophone, template)
	if err != nil {
		return err
	}
	if err := pub.AddTrack(domain.PurposeMicrophone, template, session); err != nil {
		return err
	}
	r.setLocalFlag(func(p *domain.Participant) { p.IsAudioEnabled = true })
	return pub.SendMeetingEvent(ctx, protocol.MeetingMicOn, "")
}

// DisableMicrophone stops the microphone track and announces it.
func (r *Room) DisableMicrophone(ctx context.Context) error {
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	pub.RemoveTrack(domain.PurposeMicrophone)
	r.setLocalFlag(func(p *domain.Participant) { p.IsAudioEnabled = false })
	return pub.SendMeetingEvent(ctx, protocol.MeetingMicOff, "")
}

// EnableCamera starts both camera sub-streams (simulcast pair) and announces
// the camera.
func (r *Room) EnableCamera(ctx context.Context, high, low domain.DecoderConfig) error {
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	highSession, err := r.deps.Media.NewEncoderSession(domain.PurposeCameraHigh, high)
	if err != nil {
		return err
	}
	if err := pub.AddTrack(domain.PurposeCameraHigh, high, highSession); err != nil {
		return err
	}
	lowSession, err := r.deps.Media.NewEncoderSession(domain.PurposeCameraLow, low)
	if err != nil {
		return err
	}
	if err := pub.AddTrack(domain.PurposeCameraLow, low, lowSession); err != nil {
		pub.RemoveTrack(domain.PurposeCameraHigh)
		return err
	}
	r.setLocalFlag(func(p *domain.Participant) { p.IsVideoEnabled = true })
	return pub.SendMeetingEvent(ctx, protocol.MeetingCameraOn, "")
}

// DisableCamera stops both camera sub-streams and announces it.
func (r *Room) DisableCamera(ctx context.Context) error {
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	pub.RemoveTrack(domain.PurposeCameraHigh)
	pub.RemoveTrack(domain.PurposeCameraLow)
	r.setLocalFlag(func(p *domain.Participant) { p.IsVideoEnabled = false })
	return pub.SendMeetingEvent(ctx, protocol.MeetingCameraOff, "")
}

// StartScreenShare begins the screen sub-stream pair and announces it.
// audioTemplate is zero-valued when the share has no audio.
func (r *Room) StartScreenShare(ctx context.Context, videoTemplate, audioTemplate domain.DecoderConfig, withAudio bool) error {
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	videoSession, err := r.deps.Media.NewEncoderSession(domain.PurposeScreen, videoTemplate)
	if err != nil {
		return err
	}
	var audioSession ports.EncoderSession
	if withAudio {
		audioSession, err = r.deps.Media.NewEncoderSession(domain.PurposeScreenAudio, audioTemplate)
		if err != nil {
			return err
		}
	}
	if err := pub.StartScreenShare(videoTemplate, videoSession, audioTemplate, audioSession); err != nil {
		return err
	}
	r.setLocalFlag(func(p *domain.Participant) { p.IsScreenSharing = true })
	return pub.SendMeetingEvent(ctx, protocol.MeetingStartShareScreen, "")
}

// StopScreenShare ends the screen share and announces it.
func (r *Room) StopScreenShare(ctx context.Context) error {
	pub, err := r.requirePublisher()
	if err != nil {
		return err
	}
	pub.StopScreenShare()
	r.setLocalFlag(func(p *domain.Participant) { p.IsScreenSharing = false })
	return pub.SendMeetingEvent(ctx, protocol.MeetingStopShareScreen, "")
}

func (r *Room) setLocalFlag(set func(*domain.Participant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local != nil {
		set(r.local)
	}
}

// chatPayload is the wire shape of chat events on the feed.
type chatPayload struct {
	ID     string        `json:"id"`
	Sender domain.UserID `json:"sender"`
	Body   string        `json:"body,omitempty"`
	SentAt int64         `json:"sent_at"`
}

// SendMessage relays one chat message through the event feed. The core keeps
// no history.
func (r *Room) SendMessage(ctx context.Context, body string) (string, error) {
	local, err := r.LocalParticipant()
	if err != nil {
		return "", err
	}
	msg := chatPayload{ID: utils.GenerateMessageID(), Sender: local.UserID, Body: body, SentAt: utils.NowMillis()}
	if err := r.sendChat(ctx, string(domain.EventChatMessage), msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// EditMessage relays a message edit.
func (r *Room) EditMessage(ctx context.Context, messageID, body string) error {
	local, err := r.LocalParticipant()
	if err != nil {
		return err
	}
	return r.sendChat(ctx, string(domain.EventChatMessageUpdate), chatPayload{ID: messageID, Sender: local.UserID, Body: body, SentAt: utils.NowMillis()})
}

// DeleteMessage relays a message deletion.
func (r *Room) DeleteMessage(ctx context.Context, messageID string) error {
	local, err := r.LocalParticipant()
	if err != nil {
		return err
	}
	return r.sendChat(ctx, string(domain.EventChatMessageDelete), chatPayload{ID: messageID, Sender: local.UserID, SentAt: utils.NowMillis()})
}

func (r *Room) sendChat(ctx context.Context, eventType string, payload chatPayload) error {
	body, err := json.Marshal(&payload)
	if err != nil {
		return err
	}
	return r.deps.Feed.Send(ctx, ports.SignalEvent{Type: eventType, RoomID: string(r.id), Payload: body})
}

// NotifyTyping marks the local participant as composing. The first call
// sends typingStart; typingStop follows automatically once calls go quiet
// for the debounce window.
func (r *Room) NotifyTyping(ctx context.Context) error {
	local, err := r.LocalParticipant()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&chatPayload{Sender: local.UserID, SentAt: utils.NowMillis()})
	if err != nil {
		return err
	}

	r.typingMu.Lock()
	first := !r.typingActive
	r.typingActive = true
	r.typingMu.Unlock()

	if first {
		if err := r.deps.Feed.Send(ctx, ports.SignalEvent{Type: string(domain.EventTypingStart), RoomID: string(r.id), Payload: payload}); err != nil {
			r.typingMu.Lock()
			r.typingActive = false
			r.typingMu.Unlock()
			return err
		}
	}

	r.typingBounce(func() {
		r.typingMu.Lock()
		r.typingActive = false
		r.typingMu.Unlock()

		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.deps.Feed.Send(sendCtx, ports.SignalEvent{Type: string(domain.EventTypingStop), RoomID: string(r.id), Payload: payload}); err != nil {
			r.logger.Warn("typing stop send failed", zap.Error(err))
		}
	})
	return nil
}

// actorPayload identifies the participant an event refers to.
type actorPayload struct {
	UserID   domain.UserID   `json:"user_id"`
	StreamID domain.StreamID `json:"stream_id,omitempty"`
}

// dispatchLoop is the single handler for server-pushed events, keyed on the
// event-type tag. Unknown tags are ignored, never errors.
func (r *Room) dispatchLoop() {
	for evt := range r.deps.Feed.Events() {
		r.handleEvent(evt)
	}
}

func (r *Room) handleEvent(evt ports.SignalEvent) {
	switch evt.Type {
	case feedEventJoin:
		var info ports.ParticipantInfo
		if err := json.Unmarshal(evt.Payload, &info); err != nil {
			r.logger.Warn("malformed join event", zap.Error(err))
			return
		}
		r.mu.Lock()
		local := r.local
		_, known := r.participants[info.UserID]
		r.mu.Unlock()
		if known || (local != nil && info.UserID == local.UserID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.addRemote(ctx, info); err != nil {
			r.logger.Warn("subscriber setup failed", zap.String("user_id", string(info.UserID)), zap.Error(err))
			return
		}
		p, _ := r.Participant(info.UserID)
		r.emit(domain.RoomEvent{Kind: domain.EventParticipantJoined, RoomID: r.id, UserID: info.UserID, Participant: &p, At: time.Now()})

	case feedEventLeave:
		actor, ok := r.decodeActor(evt)
		if !ok {
			return
		}
		r.removeRemote(actor.UserID)
		r.emit(domain.RoomEvent{Kind: domain.EventParticipantLeft, RoomID: r.id, UserID: actor.UserID, At: time.Now()})

	case string(domain.EventMicOn), string(domain.EventMicOff):
		r.applyFlag(evt, func(p *domain.Participant) { p.IsAudioEnabled = evt.Type == string(domain.EventMicOn) })

	case string(domain.EventCameraOn), string(domain.EventCameraOff):
		r.applyFlag(evt, func(p *domain.Participant) { p.IsVideoEnabled = evt.Type == string(domain.EventCameraOn) })

	case string(domain.EventScreenShareStart), string(domain.EventScreenShareStop):
		r.applyFlag(evt, func(p *domain.Participant) { p.IsScreenSharing = evt.Type == string(domain.EventScreenShareStart) })

	case string(domain.EventPinned):
		actor, ok := r.decodeActor(evt)
		if !ok {
			return
		}
		if err := r.PinParticipant(actor.UserID); err != nil {
			r.logger.Warn("mirrored pin failed", zap.String("user_id", string(actor.UserID)), zap.Error(err))
		}

	case string(domain.EventUnpinned):
		r.UnpinParticipant()

	case string(domain.EventChatMessage), string(domain.EventChatMessageUpdate), string(domain.EventChatMessageDelete):
		var payload chatPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			r.logger.Warn("malformed chat event", zap.Error(err))
			return
		}
		msg := &domain.ChatMessage{ID: payload.ID, Sender: payload.Sender, Body: payload.Body, SentAt: time.UnixMilli(payload.SentAt)}
		if evt.Type == string(domain.EventChatMessageUpdate) {
			msg.EditedAt = time.Now()
		}
		r.emit(domain.RoomEvent{Kind: domain.RoomEventKind(evt.Type), RoomID: r.id, UserID: payload.Sender, Message: msg, At: time.Now()})

	case string(domain.EventTypingStart), string(domain.EventTypingStop):
		var payload chatPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return
		}
		r.emit(domain.RoomEvent{Kind: domain.RoomEventKind(evt.Type), RoomID: r.id, UserID: payload.Sender, At: time.Now()})

	default:
		// Unknown tags are ignored so new server events never break old
		// clients.
		r.logger.Debug("ignoring unknown event", zap.String("type", evt.Type))
	}
}

func (r *Room) decodeActor(evt ports.SignalEvent) (actorPayload, bool) {
	var actor actorPayload
	if err := json.Unmarshal(evt.Payload, &actor); err != nil {
		r.logger.Warn("malformed event payload", zap.String("type", evt.Type), zap.Error(err))
		return actorPayload{}, false
	}
	return actor, true
}

func (r *Room) applyFlag(evt ports.SignalEvent, set func(*domain.Participant)) {
	actor, ok := r.decodeActor(evt)
	if !ok {
		return
	}
	r.mu.Lock()
	p, known := r.participants[actor.UserID]
	if known {
		set(p)
	}
	var snapshot domain.Participant
	if known {
		snapshot = *p
	}
	r.mu.Unlock()
	if !known {
		return
	}
	r.emit(domain.RoomEvent{Kind: domain.RoomEventKind(evt.Type), RoomID: r.id, UserID: actor.UserID, Participant: &snapshot, At: time.Now()})
}

func (r *Room) emit(evt domain.RoomEvent) {
	r.mu.Lock()
	listeners := append([](func(domain.RoomEvent))(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

// Metrics snapshots the room's media-plane counters.
func (r *Room) Metrics() domain.SessionMetrics {
	m := domain.SessionMetrics{Timestamp: time.Now()}
	r.mu.Lock()
	publisher := r.publisher
	subscribers := make([]*media.Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subscribers = append(subscribers, sub)
	}
	r.mu.Unlock()

	if publisher != nil {
		m.PacketsSent = publisher.PacketsSent()
		m.EncoderDrops = publisher.FramesDropped()
	}
	for _, sub := range subscribers {
		m.PacketsDropped += sub.PacketsDropped()
	}
	return m
}
