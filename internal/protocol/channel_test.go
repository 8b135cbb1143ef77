package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/transport/memory"
)

func channelPair(t *testing.T, purpose domain.StreamPurpose) (*StreamChannel, ports.Stream, ports.Stream) {
	t.Helper()

	client, server := memory.NewPair()
	t.Cleanup(func() { client.Close(); server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	local, err := client.OpenStream(ctx, purpose)
	require.NoError(t, err)
	_, remote, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	ch := NewStreamChannel(purpose, remote, 64, zap.NewNop())
	return ch, local, remote
}

func collectInbound(t *testing.T, ch *StreamChannel, want int) []InboundPacket {
	t.Helper()

	var got []InboundPacket
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case pkt, ok := <-ch.Inbound():
			if !ok {
				return got
			}
			got = append(got, pkt)
		case <-deadline:
			t.Fatalf("timed out waiting for %d packets, have %d", want, len(got))
		}
	}
	return got
}

func TestSendPacket_GatedUntilConfigSent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, server := memory.NewPair()
	defer client.Close()
	defer server.Close()

	local, err := client.OpenStream(ctx, domain.PurposeCameraHigh)
	require.NoError(t, err)
	_, _, err = server.AcceptStream(ctx)
	require.NoError(t, err)

	ch := NewStreamChannel(domain.PurposeCameraHigh, local, 64, zap.NewNop())

	err = ch.SendPacket(ctx, []byte("frame"), 100, PacketVideoHighKey)
	assert.ErrorIs(t, err, domain.ErrConfigNotReady)
	assert.False(t, ch.ConfigSent())

	require.NoError(t, ch.SendConfig(ctx, []byte(`{"type":"StreamConfig"}`), 100))
	assert.True(t, ch.ConfigSent())

	assert.NoError(t, ch.SendPacket(ctx, []byte("frame"), 150, PacketVideoHighKey))
}

func TestSendPacket_RelativeTimestampBase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, server := memory.NewPair()
	defer client.Close()
	defer server.Close()

	local, err := client.OpenStream(ctx, domain.PurposeMicrophone)
	require.NoError(t, err)
	_, remote, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	ch := NewStreamChannel(domain.PurposeMicrophone, local, 64, zap.NewNop())

	// base fixed at first unit
	require.NoError(t, ch.SendConfig(ctx, []byte("{}"), 10_000))
	require.NoError(t, ch.SendPacket(ctx, []byte("a"), 10_020, PacketAudio))
	require.NoError(t, ch.SendPacket(ctx, []byte("b"), 9_000, PacketAudio)) // behind base: clamps to 0

	wantTs := []uint32{0, 20, 0}
	for i, want := range wantTs {
		unit, err := remote.ReadUnit(ctx)
		require.NoError(t, err)
		ts, _, _, err := DecodePacket(unit)
		require.NoError(t, err)
		assert.Equal(t, want, ts, "unit %d", i)
	}
}

func TestRelativeTimestamp_ConcurrentBaseRace(t *testing.T) {
	// Two senders racing on the channel's first unit must both offset from
	// the winner's base, never from an unset zero.
	inputs := []int64{40_000, 40_030}
	for i := 0; i < 200; i++ {
		ch := &StreamChannel{}
		results := make([]int64, len(inputs))

		var wg sync.WaitGroup
		for j, absMs := range inputs {
			wg.Add(1)
			go func(j int, absMs int64) {
				defer wg.Done()
				results[j] = ch.relativeTimestamp(absMs)
			}(j, absMs)
		}
		wg.Wait()

		base := ch.baseMs.Load()
		require.Contains(t, inputs, base)
		for j, absMs := range inputs {
			require.Equal(t, absMs-base, results[j])
		}
	}
}

func TestReceive_LateConfigScenario(t *testing.T) {
	// Three delta packets before the config unit must be dropped; the key
	// packet after it must be the only accepted media unit.
	ch, local, _ := channelPair(t, domain.PurposeCameraHigh)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch.Start(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("delta"), int64(i*33), PacketVideoHighDelta)))
	}
	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte(`{"type":"StreamConfig"}`), 100, PacketOther)))
	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("key"), 133, PacketVideoHighKey)))

	got := collectInbound(t, ch, 2)
	require.Len(t, got, 2)
	assert.True(t, got[0].Type.IsConfig())
	assert.Equal(t, PacketVideoHighKey, got[1].Type)
	assert.Equal(t, []byte("key"), got[1].Payload)
	assert.Equal(t, uint64(3), ch.UnconfiguredDrops())
	assert.True(t, ch.ConfigAccepted())
}

func TestReceive_DuplicateConfigDropped(t *testing.T) {
	ch, local, _ := channelPair(t, domain.PurposeScreen)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch.Start(ctx)

	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("cfg1"), 0, PacketOther)))
	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("cfg2"), 1, PacketOther)))
	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("media"), 2, PacketScreenKey)))

	got := collectInbound(t, ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("cfg1"), got[0].Payload)
	assert.Equal(t, PacketScreenKey, got[1].Type)
}

func TestReceive_MalformedUnitKeepsStreamOpen(t *testing.T) {
	ch, local, _ := channelPair(t, domain.PurposeMicrophone)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch.Start(ctx)

	require.NoError(t, local.WriteUnit(ctx, []byte{0x01, 0x02})) // shorter than a header
	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("cfg"), 0, PacketOther)))
	require.NoError(t, local.WriteUnit(ctx, EncodePacket([]byte("audio"), 20, PacketAudio)))

	got := collectInbound(t, ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, PacketAudio, got[1].Type)
}

func TestChannel_CloseIdempotent(t *testing.T) {
	ch, _, _ := channelPair(t, domain.PurposeCameraLow)

	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())

	err := ch.SendPacket(context.Background(), []byte("x"), 0, PacketVideoLowKey)
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}
