package webrtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
)

// newConnectedPair negotiates two in-process peer connections and wraps both
// sides as transports. The offerer carries the bootstrap channel that makes
// a data-channel-only SDP valid.
func newConnectedPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()

	pcA, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	pcB, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)

	ta := NewTransport(pcA, zap.NewNop())
	tb := NewTransport(pcB, zap.NewNop())
	t.Cleanup(func() {
		ta.Close()
		tb.Close()
	})

	_, err = pcA.CreateDataChannel("negotiation", nil)
	require.NoError(t, err)

	offer, err := pcA.CreateOffer(nil)
	require.NoError(t, err)
	gatherA := webrtc.GatheringCompletePromise(pcA)
	require.NoError(t, pcA.SetLocalDescription(offer))
	<-gatherA

	require.NoError(t, pcB.SetRemoteDescription(*pcA.LocalDescription()))
	answer, err := pcB.CreateAnswer(nil)
	require.NoError(t, err)
	gatherB := webrtc.GatheringCompletePromise(pcB)
	require.NoError(t, pcB.SetLocalDescription(answer))
	<-gatherB

	require.NoError(t, pcA.SetRemoteDescription(*pcB.LocalDescription()))

	require.Eventually(t, func() bool {
		return pcA.ConnectionState() == webrtc.PeerConnectionStateConnected &&
			pcB.ConnectionState() == webrtc.PeerConnectionStateConnected
	}, 10*time.Second, 10*time.Millisecond)

	// consume the bootstrap channel on the answering side
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	purpose, _, err := tb.AcceptStream(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StreamPurpose("negotiation"), purpose)

	return ta, tb
}

func acceptPurpose(t *testing.T, tr *Transport, want domain.StreamPurpose) ports.Stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	purpose, s, err := tr.AcceptStream(ctx)
	require.NoError(t, err)
	require.Equal(t, want, purpose)
	return s
}

func TestTransport_PurposeTravelsAsLabel(t *testing.T) {
	ta, tb := newConnectedPair(t)
	ctx := context.Background()

	local, err := ta.OpenStream(ctx, domain.PurposeCameraHigh)
	require.NoError(t, err)
	remote := acceptPurpose(t, tb, domain.PurposeCameraHigh)

	require.NoError(t, local.WriteUnit(ctx, []byte("unit-1")))
	unit, err := remote.ReadUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("unit-1"), unit)
}

func TestTransport_UnitsKeepBoundariesAndOrder(t *testing.T) {
	ta, tb := newConnectedPair(t)
	ctx := context.Background()

	local, err := ta.OpenStream(ctx, domain.PurposeMicrophone)
	require.NoError(t, err)
	remote := acceptPurpose(t, tb, domain.PurposeMicrophone)

	payloads := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, p := range payloads {
		require.NoError(t, local.WriteUnit(ctx, p))
	}
	for _, want := range payloads {
		unit, err := remote.ReadUnit(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, unit)
	}
}

func TestTransport_IndependentStreams(t *testing.T) {
	ta, tb := newConnectedPair(t)
	ctx := context.Background()

	camera, err := ta.OpenStream(ctx, domain.PurposeCameraLow)
	require.NoError(t, err)
	mic, err := ta.OpenStream(ctx, domain.PurposeMicrophone)
	require.NoError(t, err)

	remoteCamera := acceptPurpose(t, tb, domain.PurposeCameraLow)
	remoteMic := acceptPurpose(t, tb, domain.PurposeMicrophone)

	require.NoError(t, mic.WriteUnit(ctx, []byte("audio")))
	require.NoError(t, camera.WriteUnit(ctx, []byte("video")))

	unit, err := remoteMic.ReadUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), unit)
	unit, err = remoteCamera.ReadUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), unit)
}

func TestTransport_CloseUnblocksReaders(t *testing.T) {
	ta, tb := newConnectedPair(t)
	ctx := context.Background()

	local, err := ta.OpenStream(ctx, domain.PurposeScreen)
	require.NoError(t, err)
	remote := acceptPurpose(t, tb, domain.PurposeScreen)

	done := make(chan error, 1)
	go func() {
		_, err := remote.ReadUnit(context.Background())
		done <- err
	}()

	require.NoError(t, local.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("reader not unblocked by close")
	}

	assert.ErrorIs(t, local.WriteUnit(ctx, []byte("late")), domain.ErrChannelClosed)
}

func TestTransport_OpenAfterCloseFails(t *testing.T) {
	ta, _ := newConnectedPair(t)
	require.NoError(t, ta.Close())
	_, err := ta.OpenStream(context.Background(), domain.PurposeEvent)
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}
