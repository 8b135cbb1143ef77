// Package headless provides a media provider with no codec hardware behind
// it: encoders accept frames and drop them, decoders decode to nothing, the
// audio graph only tracks gain values. It backs bots, load tools and the
// demo binary, where the session plumbing matters but rendering does not.
package headless

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

// Provider implements ports.MediaProvider.
type Provider struct {
	graph *audioGraph
}

// NewProvider builds the provider.
func NewProvider() *Provider {
	return &Provider{graph: &audioGraph{nodes: make(map[string]*gainNode)}}
}

func (p *Provider) NewEncoderSession(purpose domain.StreamPurpose, template domain.DecoderConfig) (ports.EncoderSession, error) {
	return &encoderSession{}, nil
}

func (p *Provider) NewVideoDecoder(streamID domain.StreamID) (ports.DecoderSession, error) {
	return &decoderSession{}, nil
}

func (p *Provider) NewAudioDecoder(streamID domain.StreamID) (ports.DecoderSession, error) {
	return &decoderSession{}, nil
}

func (p *Provider) NewRenderSink(streamID domain.StreamID) (ports.RenderSink, error) {
	return &renderSink{}, nil
}

func (p *Provider) AudioGraph() ports.AudioGraph { return p.graph }

type encoderSession struct {
	started atomic.Bool
}

func (e *encoderSession) Start(ctx context.Context, onChunk func(domain.EncodedChunk, *domain.DecoderConfig)) error {
	e.started.Store(true)
	return nil
}

func (e *encoderSession) QueueDepth() int { return 0 }
func (e *encoderSession) Flush() error    { return nil }
func (e *encoderSession) Close() error    { return nil }

type decoderSession struct {
	mu      sync.Mutex
	onFrame func(ports.RawFrame)
}

func (d *decoderSession) Configure(config domain.DecoderConfig) error { return nil }

func (d *decoderSession) Decode(data []byte, timestampUs int64, isKey bool) error {
	d.mu.Lock()
	onFrame := d.onFrame
	d.mu.Unlock()
	if onFrame != nil {
		// decoding to nothing still advances the render clock
		onFrame(ports.RawFrame{TimestampUs: timestampUs})
	}
	return nil
}

func (d *decoderSession) Start(ctx context.Context, onFrame func(ports.RawFrame)) error {
	d.mu.Lock()
	d.onFrame = onFrame
	d.mu.Unlock()
	return nil
}

func (d *decoderSession) Close() error { return nil }

type renderSink struct{}

func (renderSink) RenderVideo(frame ports.RawFrame) {}
func (renderSink) RenderAudio(frame ports.RawFrame) {}

type audioGraph struct {
	mu        sync.Mutex
	nodes     map[string]*gainNode
	master    float64
	suspended bool
}

func (g *audioGraph) AddSource(id string) ports.GainNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	node := &gainNode{}
	node.gain.Store(1)
	g.nodes[id] = node
	return node
}

func (g *audioGraph) SetMasterGain(gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.master = gain
}

func (g *audioGraph) Suspend() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = true
	return nil
}

func (g *audioGraph) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = false
	return nil
}

type gainNode struct {
	gain atomic.Float64
}

func (n *gainNode) SetGain(gain float64) { n.gain.Store(gain) }
func (n *gainNode) Disconnect()          {}
