// Package media implements the publish and subscribe pipelines that sit
// between the platform codec engines and the stream channels: encode backlog
// control, codec negotiation, optional forward error correction, packet
// framing, and the audio mixing graph.
package media

import (
	"sync"

	"go.uber.org/atomic"
)

// SyncClock is the session-wide timestamp reference shared by the audio and
// video pipelines. Its base is fixed by the first media unit of the session,
// whichever pipeline produces it, so relative timestamps from different
// channels stay comparable. Lifecycle equals the owning session's lifetime.
type SyncClock struct {
	baseOnce sync.Once
	baseSet  atomic.Bool
	baseUs   atomic.Int64
}

// NewSyncClock returns a clock with no base yet.
func NewSyncClock() *SyncClock {
	return &SyncClock{}
}

// RelativeMs converts an absolute capture timestamp in microseconds into
// milliseconds since the session base, fixing the base on first use. Once
// blocks concurrent first callers until the winning base is visible, so two
// pipelines racing on their first frame share one reference point.
func (c *SyncClock) RelativeMs(timestampUs int64) int64 {
	c.baseOnce.Do(func() {
		c.baseUs.Store(timestampUs)
		c.baseSet.Store(true)
	})
	return (timestampUs - c.baseUs.Load()) / 1000
}

// Started reports whether the base has been fixed.
func (c *SyncClock) Started() bool {
	return c.baseSet.Load()
}

// BaseUs returns the base timestamp, valid only after Started.
func (c *SyncClock) BaseUs() int64 {
	return c.baseUs.Load()
}
