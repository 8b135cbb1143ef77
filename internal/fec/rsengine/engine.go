// Package rsengine implements the rateless-code engine port on top of a
// systematic Reed-Solomon erasure code. Symbols are self-describing: each
// carries the chunk's object size, its shard index and the repair total, so
// a decoder can rebuild the shard layout from any subset of symbols.
package rsengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/reedsolomon"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

const (
	configMagic   = 0xEC
	configVersion = 0x01
	configSize    = 4 // magic, version, u16 symbol size

	symbolHeaderSize = 8 // u32 object size, u16 shard index, u16 repair total

	// partialCapacity bounds in-progress chunks per decoder; the oldest
	// incomplete chunk is dropped when exceeded.
	partialCapacity = 64

	// completedMemory remembers recently finished chunks so straggler
	// symbols are ignored instead of re-accumulated.
	completedMemory = 128
)

var (
	ErrEmptyChunk      = errors.New("rsengine: empty chunk")
	ErrBadConfigBuffer = errors.New("rsengine: bad config buffer")
	ErrBadSymbol       = errors.New("rsengine: bad symbol")
)

// Engine is the Reed-Solomon backed ports.FecEngine.
type Engine struct{}

// New returns the engine.
func New() *Engine { return &Engine{} }

// NewChunkEncoder partitions data into MTU-bounded source symbols.
func (e *Engine) NewChunkEncoder(data []byte, mtu uint16) (ports.FecChunkEncoder, error) {
	if len(data) == 0 {
		return nil, ErrEmptyChunk
	}
	if mtu == 0 {
		return nil, fmt.Errorf("rsengine: mtu must be positive")
	}
	return &chunkEncoder{data: data, symbolSize: int(mtu)}, nil
}

// NewChunkDecoder builds decode state from an encoder's config buffer.
func (e *Engine) NewChunkDecoder(configBuffer []byte) (ports.FecChunkDecoder, error) {
	if len(configBuffer) != configSize || configBuffer[0] != configMagic || configBuffer[1] != configVersion {
		return nil, ErrBadConfigBuffer
	}
	symbolSize := int(binary.BigEndian.Uint16(configBuffer[2:4]))
	if symbolSize == 0 {
		return nil, ErrBadConfigBuffer
	}

	partials, _ := lru.New[uint32, *partialChunk](partialCapacity)
	completed, _ := lru.New[uint32, struct{}](completedMemory)
	return &chunkDecoder{
		symbolSize: symbolSize,
		partials:   partials,
		completed:  completed,
	}, nil
}

type chunkEncoder struct {
	data       []byte
	symbolSize int
}

func (c *chunkEncoder) ConfigBuffer() []byte {
	buf := make([]byte, configSize)
	buf[0] = configMagic
	buf[1] = configVersion
	binary.BigEndian.PutUint16(buf[2:4], uint16(c.symbolSize))
	return buf
}

// Encode returns the source symbols followed by repairCount repair symbols.
func (c *chunkEncoder) Encode(repairCount uint32) ([][]byte, error) {
	numSource := (len(c.data) + c.symbolSize - 1) / c.symbolSize

	shards := make([][]byte, numSource+int(repairCount))
	for i := 0; i < numSource; i++ {
		shard := make([]byte, c.symbolSize)
		start := i * c.symbolSize
		end := start + c.symbolSize
		if end > len(c.data) {
			end = len(c.data)
		}
		copy(shard, c.data[start:end])
		shards[i] = shard
	}

	if repairCount > 0 {
		rs, err := reedsolomon.New(numSource, int(repairCount))
		if err != nil {
			return nil, fmt.Errorf("rsengine: %w", err)
		}
		for i := numSource; i < len(shards); i++ {
			shards[i] = make([]byte, c.symbolSize)
		}
		if err := rs.Encode(shards); err != nil {
			return nil, fmt.Errorf("rsengine: %w", err)
		}
	}

	symbols := make([][]byte, len(shards))
	for i, shard := range shards {
		symbol := make([]byte, symbolHeaderSize+c.symbolSize)
		binary.BigEndian.PutUint32(symbol[0:4], uint32(len(c.data)))
		binary.BigEndian.PutUint16(symbol[4:6], uint16(i))
		binary.BigEndian.PutUint16(symbol[6:8], uint16(repairCount))
		copy(symbol[symbolHeaderSize:], shard)
		symbols[i] = symbol
	}
	return symbols, nil
}

type partialChunk struct {
	objectSize  int
	repairTotal int
	shards      [][]byte
	have        int
}

type chunkDecoder struct {
	symbolSize int

	mu        sync.Mutex
	partials  *lru.Cache[uint32, *partialChunk]
	completed *lru.Cache[uint32, struct{}]
}

// Process feeds one symbol for the given chunk, returning the chunk bytes
// once enough symbols accumulated. Duplicates and stragglers are ignored.
func (d *chunkDecoder) Process(symbol []byte, chunkID uint32) ([]byte, bool, error) {
	if len(symbol) != symbolHeaderSize+d.symbolSize {
		return nil, false, ErrBadSymbol
	}

	objectSize := int(binary.BigEndian.Uint32(symbol[0:4]))
	index := int(binary.BigEndian.Uint16(symbol[4:6]))
	repairTotal := int(binary.BigEndian.Uint16(symbol[6:8]))

	numSource := (objectSize + d.symbolSize - 1) / d.symbolSize
	total := numSource + repairTotal
	if objectSize == 0 || index >= total {
		return nil, false, ErrBadSymbol
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.completed.Contains(chunkID) {
		return nil, false, nil
	}

	p, ok := d.partials.Get(chunkID)
	if !ok {
		p = &partialChunk{
			objectSize:  objectSize,
			repairTotal: repairTotal,
			shards:      make([][]byte, total),
		}
		d.partials.Add(chunkID, p)
	}
	if p.objectSize != objectSize || len(p.shards) != total {
		return nil, false, ErrBadSymbol
	}
	if p.shards[index] != nil {
		return nil, false, nil
	}

	p.shards[index] = append([]byte(nil), symbol[symbolHeaderSize:]...)
	p.have++

	if p.have < numSource {
		return nil, false, nil
	}

	data, err := d.assemble(p, numSource)
	if err != nil {
		return nil, false, err
	}

	d.partials.Remove(chunkID)
	d.completed.Add(chunkID, struct{}{})
	return data, true, nil
}

// assemble reconstructs missing source shards if needed and concatenates
// them, trimmed to the original object size.
func (d *chunkDecoder) assemble(p *partialChunk, numSource int) ([]byte, error) {
	missingSource := false
	for i := 0; i < numSource; i++ {
		if p.shards[i] == nil {
			missingSource = true
			break
		}
	}

	if missingSource {
		rs, err := reedsolomon.New(numSource, p.repairTotal)
		if err != nil {
			return nil, fmt.Errorf("rsengine: %w", err)
		}
		if err := rs.ReconstructData(p.shards); err != nil {
			return nil, fmt.Errorf("rsengine: %w", err)
		}
	}

	data := make([]byte, 0, numSource*d.symbolSize)
	for i := 0; i < numSource; i++ {
		data = append(data, p.shards[i]...)
	}
	return data[:p.objectSize], nil
}
