package media

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

// fakeEncoderSession lets tests drive encoder output by hand.
type fakeEncoderSession struct {
	mu         sync.Mutex
	onChunk    func(domain.EncodedChunk, *domain.DecoderConfig)
	queueDepth atomic.Int64
	flushes    atomic.Int64
	closes     atomic.Int64
	startErr   error
}

func (f *fakeEncoderSession) Start(ctx context.Context, onChunk func(domain.EncodedChunk, *domain.DecoderConfig)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.onChunk = onChunk
	f.mu.Unlock()
	return nil
}

func (f *fakeEncoderSession) emit(chunk domain.EncodedChunk, meta *domain.DecoderConfig) {
	f.mu.Lock()
	cb := f.onChunk
	f.mu.Unlock()
	if cb != nil {
		cb(chunk, meta)
	}
}

func (f *fakeEncoderSession) QueueDepth() int { return int(f.queueDepth.Load()) }
func (f *fakeEncoderSession) Flush() error    { f.flushes.Inc(); return nil }
func (f *fakeEncoderSession) Close() error    { f.closes.Inc(); return nil }

type decodeCall struct {
	data  []byte
	tsUs  int64
	isKey bool
}

// fakeDecoderSession records configuration and decode calls and exposes the
// frame callback so tests can push raw frames.
type fakeDecoderSession struct {
	mu      sync.Mutex
	configs []domain.DecoderConfig
	decodes []decodeCall
	onFrame func(ports.RawFrame)
	closes  atomic.Int64
}

func (f *fakeDecoderSession) Configure(cfg domain.DecoderConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeDecoderSession) Decode(data []byte, tsUs int64, isKey bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decodes = append(f.decodes, decodeCall{data: append([]byte(nil), data...), tsUs: tsUs, isKey: isKey})
	return nil
}

func (f *fakeDecoderSession) Start(ctx context.Context, onFrame func(ports.RawFrame)) error {
	f.mu.Lock()
	f.onFrame = onFrame
	f.mu.Unlock()
	return nil
}

func (f *fakeDecoderSession) Close() error { f.closes.Inc(); return nil }

func (f *fakeDecoderSession) configCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *fakeDecoderSession) decodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.decodes)
}

func (f *fakeDecoderSession) lastDecode() decodeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decodes[len(f.decodes)-1]
}

func (f *fakeDecoderSession) pushFrame(frame ports.RawFrame) {
	f.mu.Lock()
	cb := f.onFrame
	f.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

// fakeSink records rendered frames.
type fakeSink struct {
	mu     sync.Mutex
	video  []ports.RawFrame
	audio  []ports.RawFrame
}

func (f *fakeSink) RenderVideo(frame ports.RawFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, frame)
}

func (f *fakeSink) RenderAudio(frame ports.RawFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, frame)
}

func (f *fakeSink) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

// fakeGainNode and fakeAudioGraph back the mixer tests.
type fakeGainNode struct {
	gain         atomic.Float64
	disconnected atomic.Bool
}

func (g *fakeGainNode) SetGain(gain float64) { g.gain.Store(gain) }
func (g *fakeGainNode) Disconnect()          { g.disconnected.Store(true) }

type fakeAudioGraph struct {
	mu         sync.Mutex
	nodes      map[string]*fakeGainNode
	masterGain atomic.Float64
	suspended  atomic.Bool
}

func newFakeAudioGraph() *fakeAudioGraph {
	return &fakeAudioGraph{nodes: make(map[string]*fakeGainNode)}
}

func (g *fakeAudioGraph) AddSource(id string) ports.GainNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	node := &fakeGainNode{}
	node.gain.Store(1.0)
	g.nodes[id] = node
	return node
}

func (g *fakeAudioGraph) SetMasterGain(gain float64) { g.masterGain.Store(gain) }
func (g *fakeAudioGraph) Suspend() error             { g.suspended.Store(true); return nil }
func (g *fakeAudioGraph) Resume() error              { g.suspended.Store(false); return nil }

func (g *fakeAudioGraph) node(id string) *fakeGainNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}
