package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/transport/memory"
)

// fakeControlPlane scripts control-plane responses.
type fakeControlPlane struct {
	mu          sync.Mutex
	joinCalls   int
	leaveCalls  int
	joinErr     error
	leaveErr    error
	roster      []ports.ParticipantInfo
	subRoomSeq  int
	deleteErr   error
	subRoomErr  error
}

func (f *fakeControlPlane) CreateRoom(ctx context.Context, name string) (*ports.RoomInfo, error) {
	return &ports.RoomInfo{ID: "room-1", Code: "CODE-1", Name: name, Type: "main"}, nil
}

func (f *fakeControlPlane) GetRoom(ctx context.Context, id domain.RoomID) (*ports.RoomInfo, error) {
	return &ports.RoomInfo{ID: id, Code: "CODE-1", Type: "main"}, nil
}

func (f *fakeControlPlane) JoinByCode(ctx context.Context, code string, userID domain.UserID) (*ports.JoinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	roster := append([]ports.ParticipantInfo{{
		UserID:   userID,
		StreamID: domain.StreamID("stream-" + string(userID)),
	}}, f.roster...)
	return &ports.JoinResult{
		Room:         ports.RoomInfo{ID: "room-1", Code: code, Name: "main", Type: "main", Participants: roster},
		MembershipID: "member-1",
		StreamID:     domain.StreamID("stream-" + string(userID)),
		Role:         domain.RoleOwner,
	}, nil
}

func (f *fakeControlPlane) Leave(ctx context.Context, roomID domain.RoomID, membershipID domain.MembershipID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	return f.leaveErr
}

func (f *fakeControlPlane) ListParticipants(ctx context.Context, roomID domain.RoomID) ([]ports.ParticipantInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.ParticipantInfo(nil), f.roster...), nil
}

func (f *fakeControlPlane) CreateSubRoom(ctx context.Context, parentID domain.RoomID, opts ports.SubRoomOptions) (*ports.SubRoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subRoomErr != nil {
		return nil, f.subRoomErr
	}
	f.subRoomSeq++
	id := domain.RoomID(fmt.Sprintf("sub-%d", f.subRoomSeq))
	return &ports.SubRoomInfo{
		RoomInfo:        ports.RoomInfo{ID: id, Name: opts.Name, Type: "breakout"},
		ParentID:        parentID,
		MaxParticipants: opts.MaxParticipants,
		DurationMinutes: opts.DurationMinutes,
		AutoReturn:      opts.AutoReturn,
	}, nil
}

func (f *fakeControlPlane) ListSubRooms(ctx context.Context, parentID domain.RoomID) ([]ports.SubRoomInfo, error) {
	return nil, nil
}

func (f *fakeControlPlane) DeleteSubRoom(ctx context.Context, parentID, subRoomID domain.RoomID) error {
	return f.deleteErr
}

func (f *fakeControlPlane) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinCalls
}

// fakeFeed is a scriptable event feed. Connect replaces the event channel so
// a rejoin gets a fresh feed.
type fakeFeed struct {
	mu       sync.Mutex
	events   chan ports.SignalEvent
	sent     []ports.SignalEvent
	sendErr  error
	closes   int
	connects int
}

func newFakeFeed() *fakeFeed { return &fakeFeed{} }

func (f *fakeFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.events = make(chan ports.SignalEvent, 16)
	return nil
}

func (f *fakeFeed) Events() <-chan ports.SignalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeFeed) Send(ctx context.Context, event ports.SignalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
	return nil
}

func (f *fakeFeed) push(event ports.SignalEvent) {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	if ch != nil {
		ch <- event
	}
}

func (f *fakeFeed) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeFeed) sentEvents() []ports.SignalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.SignalEvent(nil), f.sent...)
}

func (f *fakeFeed) sentOfType(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, evt := range f.sent {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

// fakeDialer hands out in-process transport pairs and keeps the far side so
// tests can read what the client sent.
type fakeDialer struct {
	mu      sync.Mutex
	remotes map[domain.StreamID]ports.Transport
	dialErr error
	dials   int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{remotes: make(map[domain.StreamID]ports.Transport)}
}

func (f *fakeDialer) Dial(ctx context.Context, token string, target domain.StreamID) (ports.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	local, remote := memory.NewPair()
	f.remotes[target] = remote
	return local, nil
}

// publishRemote returns the far side of the publish connection.
func (f *fakeDialer) publishRemote() ports.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remotes[""]
}

// fakeAuth scripts the authenticator.
type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
	token string
	delay time.Duration
}

func (f *fakeAuth) Authenticate(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	token := f.token
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if token == "" {
		token = "test-token"
	}
	return token, nil
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAuth) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Minimal codec/render fakes backing the media provider.
type nopEncoderSession struct{}

func (nopEncoderSession) Start(ctx context.Context, onChunk func(domain.EncodedChunk, *domain.DecoderConfig)) error {
	return nil
}
func (nopEncoderSession) QueueDepth() int { return 0 }
func (nopEncoderSession) Flush() error    { return nil }
func (nopEncoderSession) Close() error    { return nil }

type nopDecoderSession struct{}

func (nopDecoderSession) Configure(domain.DecoderConfig) error      { return nil }
func (nopDecoderSession) Decode([]byte, int64, bool) error          { return nil }
func (nopDecoderSession) Start(context.Context, func(ports.RawFrame)) error { return nil }
func (nopDecoderSession) Close() error                              { return nil }

type nopSink struct{}

func (nopSink) RenderVideo(ports.RawFrame) {}
func (nopSink) RenderAudio(ports.RawFrame) {}

type nopGainNode struct{}

func (nopGainNode) SetGain(float64) {}
func (nopGainNode) Disconnect()     {}

type recordingGraph struct {
	mu      sync.Mutex
	sources []string
}

func (g *recordingGraph) AddSource(id string) ports.GainNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sources = append(g.sources, id)
	return nopGainNode{}
}
func (g *recordingGraph) SetMasterGain(float64) {}
func (g *recordingGraph) Suspend() error        { return nil }
func (g *recordingGraph) Resume() error         { return nil }

func (g *recordingGraph) sourceCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sources)
}

type fakeMediaProvider struct {
	graph      *recordingGraph
	encoderErr error
}

func newFakeMediaProvider() *fakeMediaProvider {
	return &fakeMediaProvider{graph: &recordingGraph{}}
}

func (f *fakeMediaProvider) NewEncoderSession(purpose domain.StreamPurpose, template domain.DecoderConfig) (ports.EncoderSession, error) {
	if f.encoderErr != nil {
		return nil, f.encoderErr
	}
	return nopEncoderSession{}, nil
}

func (f *fakeMediaProvider) NewVideoDecoder(domain.StreamID) (ports.DecoderSession, error) {
	return nopDecoderSession{}, nil
}

func (f *fakeMediaProvider) NewAudioDecoder(domain.StreamID) (ports.DecoderSession, error) {
	return nopDecoderSession{}, nil
}

func (f *fakeMediaProvider) NewRenderSink(domain.StreamID) (ports.RenderSink, error) {
	return nopSink{}, nil
}

func (f *fakeMediaProvider) AudioGraph() ports.AudioGraph { return f.graph }

var errScripted = errors.New("scripted failure")
