package fec

import (
	"sync"

	"github.com/gammazero/deque"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

const (
	// pendingCapacity bounds how many incomplete chunks are tracked before
	// the oldest silently ages out. Lossy by design: no retransmission.
	pendingCapacity = 64

	// readyLimit bounds how many completed chunks may wait behind a gap
	// before the gap is declared lost and skipped.
	readyLimit = 16
)

// Chunk is one fully recovered unit of application data.
type Chunk struct {
	ID   uint32
	Data []byte
}

// Decoder accumulates symbols by chunk identifier and yields recovered
// chunks in non-decreasing ID order. A chunk already released is never
// re-emitted; chunks that never accumulate enough symbols age out silently.
type Decoder struct {
	mu sync.Mutex

	engine ports.FecChunkDecoder

	initialized  bool
	released     bool
	nextExpected uint32
	lastReleased uint32

	pending *lru.Cache[uint32, struct{}]
	ready   map[uint32][]byte

	recovered uint64
	expired   uint64
}

// NewDecoder builds a decoder around an engine constructed from the
// encoder's config buffer.
func NewDecoder(engine ports.FecChunkDecoder) *Decoder {
	pending, _ := lru.New[uint32, struct{}](pendingCapacity)
	return &Decoder{
		engine:  engine,
		pending: pending,
		ready:   make(map[uint32][]byte),
	}
}

// Process feeds one symbol. It returns zero or more chunks that just became
// releasable, in ascending chunk ID order: a single late arrival may unblock
// a backlog of buffered successors.
func (d *Decoder) Process(symbol []byte, chunkID uint32) ([]Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		d.initialized = true
		d.nextExpected = chunkID
	} else if d.isStale(chunkID) {
		return nil, nil
	}

	// A startup reorder may reveal an earlier chunk before anything was
	// released; rewind so it is not misclassified as stale.
	if !d.released && chunkID < d.nextExpected {
		d.nextExpected = chunkID
	}

	data, complete, err := d.engine.Process(symbol, chunkID)
	if err != nil {
		return nil, err
	}

	if !complete {
		if _, tracked := d.ready[chunkID]; !tracked {
			d.pending.Add(chunkID, struct{}{})
		}
		return nil, nil
	}

	d.pending.Remove(chunkID)
	d.ready[chunkID] = data
	d.recovered++

	return d.drain(), nil
}

// isStale reports whether the chunk has already been released or skipped.
func (d *Decoder) isStale(chunkID uint32) bool {
	if d.released && chunkID <= d.lastReleased {
		return true
	}
	return d.released && chunkID < d.nextExpected
}

// drain releases every consecutive completed chunk starting at nextExpected.
// When too many completed chunks pile up behind a gap, the gap is skipped.
func (d *Decoder) drain() []Chunk {
	var out deque.Deque[Chunk]

	for {
		if data, ok := d.ready[d.nextExpected]; ok {
			out.PushBack(Chunk{ID: d.nextExpected, Data: data})
			delete(d.ready, d.nextExpected)
			d.lastReleased = d.nextExpected
			d.released = true
			d.nextExpected++
			continue
		}

		if len(d.ready) > readyLimit {
			d.skipToOldestReady()
			continue
		}
		break
	}

	released := make([]Chunk, 0, out.Len())
	for out.Len() > 0 {
		released = append(released, out.PopFront())
	}
	return released
}

// skipToOldestReady abandons the gap in front of the reorder buffer.
func (d *Decoder) skipToOldestReady() {
	var oldest uint32
	first := true
	for id := range d.ready {
		if first || id < oldest {
			oldest = id
			first = false
		}
	}
	d.expired += uint64(oldest - d.nextExpected)
	d.nextExpected = oldest
}

// LastDecodedSequence returns the most recently released chunk ID, or -1
// before anything was released. Monotonic non-decreasing.
func (d *Decoder) LastDecodedSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.released {
		return -1
	}
	return int64(d.lastReleased)
}

// BufferSize reports how many chunks are buffered: incomplete plus completed
// but blocked behind a gap.
func (d *Decoder) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Len() + len(d.ready)
}

// Recovered returns how many chunks have been fully decoded.
func (d *Decoder) Recovered() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recovered
}

// Expired returns how many chunk slots were skipped as lost.
func (d *Decoder) Expired() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}
