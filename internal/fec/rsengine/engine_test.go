package rsengine

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecovery_AnyTwoLossesOfTwelveSymbols(t *testing.T) {
	// 10 source symbols at mtu 1200 plus 2 repair symbols; any 2 of the 12
	// may be lost and the chunk must still decode to the original bytes.
	data := make([]byte, 12000)
	rng := rand.New(rand.NewSource(7))
	rng.Read(data)

	engine := New()
	enc, err := engine.NewChunkEncoder(data, 1200)
	require.NoError(t, err)

	symbols, err := enc.Encode(2)
	require.NoError(t, err)
	require.Len(t, symbols, 12)

	for drop1 := 0; drop1 < len(symbols); drop1++ {
		for drop2 := drop1 + 1; drop2 < len(symbols); drop2++ {
			var kept [][]byte
			for i, s := range symbols {
				if i != drop1 && i != drop2 {
					kept = append(kept, s)
				}
			}
			rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })

			dec, err := engine.NewChunkDecoder(enc.ConfigBuffer())
			require.NoError(t, err)

			var decoded []byte
			complete := false
			for _, s := range kept {
				out, done, err := dec.Process(s, 0)
				require.NoError(t, err)
				if done {
					decoded = out
					complete = true
				}
			}
			require.True(t, complete, "drop (%d,%d): chunk did not decode", drop1, drop2)
			require.True(t, bytes.Equal(data, decoded), "drop (%d,%d): decoded bytes differ", drop1, drop2)
		}
	}
}

func TestEncode_UnalignedTail(t *testing.T) {
	data := []byte("hello, this payload does not align with the symbol size")

	engine := New()
	enc, err := engine.NewChunkEncoder(data, 16)
	require.NoError(t, err)

	symbols, err := enc.Encode(1)
	require.NoError(t, err)
	// ceil(56/16)=4 source plus 1 repair
	require.Len(t, symbols, 5)

	dec, err := engine.NewChunkDecoder(enc.ConfigBuffer())
	require.NoError(t, err)

	// lose the last source symbol (the padded one)
	var decoded []byte
	for i, s := range symbols {
		if i == 3 {
			continue
		}
		out, done, err := dec.Process(s, 9)
		require.NoError(t, err)
		if done {
			decoded = out
		}
	}
	assert.Equal(t, data, decoded)
}

func TestEncode_NoRepairSymbols(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, 100)

	engine := New()
	enc, err := engine.NewChunkEncoder(data, 40)
	require.NoError(t, err)

	symbols, err := enc.Encode(0)
	require.NoError(t, err)
	require.Len(t, symbols, 3)

	dec, err := engine.NewChunkDecoder(enc.ConfigBuffer())
	require.NoError(t, err)

	var decoded []byte
	for _, s := range symbols {
		out, done, err := dec.Process(s, 1)
		require.NoError(t, err)
		if done {
			decoded = out
		}
	}
	assert.Equal(t, data, decoded)
}

func TestDecoder_DuplicateAndStragglerSymbols(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 300)

	engine := New()
	enc, err := engine.NewChunkEncoder(data, 300)
	require.NoError(t, err)
	symbols, err := enc.Encode(2)
	require.NoError(t, err)

	dec, err := engine.NewChunkDecoder(enc.ConfigBuffer())
	require.NoError(t, err)

	completions := 0
	for round := 0; round < 2; round++ {
		for _, s := range symbols {
			_, done, err := dec.Process(s, 3)
			require.NoError(t, err)
			if done {
				completions++
			}
		}
	}
	assert.Equal(t, 1, completions, "a chunk completes exactly once")
}

func TestNewChunkEncoder_Validation(t *testing.T) {
	engine := New()

	_, err := engine.NewChunkEncoder(nil, 1200)
	assert.ErrorIs(t, err, ErrEmptyChunk)

	_, err = engine.NewChunkEncoder([]byte("x"), 0)
	assert.Error(t, err)
}

func TestNewChunkDecoder_RejectsBadConfig(t *testing.T) {
	engine := New()

	for _, cfg := range [][]byte{nil, {1, 2}, {0x00, 0x01, 0x04, 0xB0}, {configMagic, configVersion, 0, 0}} {
		_, err := engine.NewChunkDecoder(cfg)
		assert.ErrorIs(t, err, ErrBadConfigBuffer)
	}
}

func TestProcess_RejectsBadSymbol(t *testing.T) {
	engine := New()
	enc, err := engine.NewChunkEncoder([]byte("payload"), 100)
	require.NoError(t, err)

	dec, err := engine.NewChunkDecoder(enc.ConfigBuffer())
	require.NoError(t, err)

	_, _, err = dec.Process([]byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrBadSymbol)
}
