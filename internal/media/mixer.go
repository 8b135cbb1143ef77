package media

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

// AudioMixer maintains one gain-controlled source per remote subscriber plus
// a master gain stage over the platform audio graph. All mutations are safe
// to call from any subscriber's goroutine; the mixer serializes access.
type AudioMixer struct {
	graph   ports.AudioGraph
	localID domain.StreamID
	logger  *zap.Logger

	mu      sync.Mutex
	sources map[domain.StreamID]ports.GainNode
	volumes map[domain.StreamID]float64
}

// NewAudioMixer builds a mixer. localID identifies the local participant's
// own audio, which is never added as a source.
func NewAudioMixer(graph ports.AudioGraph, localID domain.StreamID, logger *zap.Logger) *AudioMixer {
	return &AudioMixer{
		graph:   graph,
		localID: localID,
		logger:  logger,
		sources: make(map[domain.StreamID]ports.GainNode),
		volumes: make(map[domain.StreamID]float64),
	}
}

// AddSubscriber connects a gain-controlled source for one subscriber. Adding
// the local participant is a no-op so the user never hears an echo of
// themselves. Re-adding an existing identity keeps the current source.
func (m *AudioMixer) AddSubscriber(id domain.StreamID) {
	if id == m.localID {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[id]; exists {
		return
	}
	node := m.graph.AddSource(string(id))
	m.sources[id] = node
	m.volumes[id] = 1.0
}

// RemoveSubscriber disconnects and forgets a source. Re-adding the same
// identity afterwards is supported.
func (m *AudioMixer) RemoveSubscriber(id domain.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.sources[id]
	if !ok {
		return
	}
	node.Disconnect()
	delete(m.sources, id)
	delete(m.volumes, id)
}

// SetSubscriberVolume sets one source's gain, clamped to [0, 1].
func (m *AudioMixer) SetSubscriberVolume(id domain.StreamID, volume float64) error {
	volume = clampGain(volume)

	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.sources[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	node.SetGain(volume)
	m.volumes[id] = volume
	return nil
}

// SubscriberVolume returns one source's current gain.
func (m *AudioMixer) SubscriberVolume(id domain.StreamID) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[id]
	return v, ok
}

// SetMasterVolume sets the master gain stage, clamped to [0, 1].
func (m *AudioMixer) SetMasterVolume(volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph.SetMasterGain(clampGain(volume))
}

// Suspend pauses the whole mixing graph for power saving. Sources stay
// connected and resume with their gains intact.
func (m *AudioMixer) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.Suspend()
}

// Resume restarts a suspended graph.
func (m *AudioMixer) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.Resume()
}

// SourceCount reports how many sources are connected.
func (m *AudioMixer) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

func clampGain(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
