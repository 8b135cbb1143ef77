package media

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/fec"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/fec/rsengine"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/transport/memory"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/protocol"
)

func defaultPublisherOptions() PublisherOptions {
	return PublisherOptions{
		StreamID:            "pub-1",
		MTU:                 1200,
		RepairCount:         2,
		BacklogLimit:        4,
		QueueSize:           16,
		ScreenConfigTimeout: time.Second,
	}
}

func startPublisher(t *testing.T, opts PublisherOptions) (*Publisher, ports.Transport, ports.Stream) {
	t.Helper()
	local, remote := memory.NewPair()
	pub := NewPublisher(local, NewSyncClock(), opts, zap.NewNop())
	require.NoError(t, pub.Start(context.Background()))
	t.Cleanup(pub.Stop)

	purpose, eventStream := acceptStream(t, remote)
	require.Equal(t, domain.PurposeEvent, purpose)
	return pub, remote, eventStream
}

func acceptStream(t *testing.T, tr ports.Transport) (domain.StreamPurpose, ports.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	purpose, st, err := tr.AcceptStream(ctx)
	require.NoError(t, err)
	return purpose, st
}

func readPacket(t *testing.T, st ports.Stream) (uint32, protocol.PacketType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unit, err := st.ReadUnit(ctx)
	require.NoError(t, err)
	ts, pt, payload, err := protocol.DecodePacket(unit)
	require.NoError(t, err)
	return ts, pt, payload
}

func TestPublisher_VideoConfigPrecedesMedia(t *testing.T) {
	pub, remote, _ := startPublisher(t, defaultPublisherOptions())

	session := &fakeEncoderSession{}
	template := domain.DecoderConfig{Codec: "vp09.00.10.08"}
	require.NoError(t, pub.AddTrack(domain.PurposeCameraHigh, template, session))

	purpose, camStream := acceptStream(t, remote)
	require.Equal(t, domain.PurposeCameraHigh, purpose)

	meta := &domain.DecoderConfig{Codec: "vp09.00.10.08", CodedWidth: 1280, CodedHeight: 720, FrameRate: 30}
	session.emit(domain.EncodedChunk{Data: []byte("keyframe"), TimestampUs: 1_000_000, IsKey: true}, meta)

	// config unit first
	_, pt, payload := readPacket(t, camStream)
	assert.Equal(t, protocol.PacketOther, pt)
	var cfg protocol.StreamConfigMessage
	require.NoError(t, json.Unmarshal(payload, &cfg))
	assert.Equal(t, protocol.MsgStreamConfig, cfg.Type)
	assert.Equal(t, "camera-high", cfg.ChannelName)
	assert.Equal(t, 1280, cfg.Config.CodedWidth)

	// then the keyframe itself
	ts, pt, payload := readPacket(t, camStream)
	assert.Equal(t, protocol.PacketVideoHighKey, pt)
	assert.Equal(t, uint32(0), ts)
	assert.Equal(t, []byte("keyframe"), payload)

	// delta frame 40ms later
	session.emit(domain.EncodedChunk{Data: []byte("delta"), TimestampUs: 1_040_000}, nil)
	ts, pt, payload = readPacket(t, camStream)
	assert.Equal(t, protocol.PacketVideoHighDelta, pt)
	assert.Equal(t, uint32(40), ts)
	assert.Equal(t, []byte("delta"), payload)
	assert.Equal(t, uint64(2), pub.PacketsSent())
}

func TestPublisher_AudioWaitsForContainerBoundary(t *testing.T) {
	pub, remote, _ := startPublisher(t, defaultPublisherOptions())

	session := &fakeEncoderSession{}
	template := domain.DecoderConfig{Codec: "opus", SampleRate: 48000, NumberOfChannels: 2}
	require.NoError(t, pub.AddTrack(domain.PurposeMicrophone, template, session))
	_, micStream := acceptStream(t, remote)

	// no boundary marker yet: nothing goes out
	session.emit(domain.EncodedChunk{Data: []byte("not-a-header"), TimestampUs: 100_000}, nil)
	assert.Equal(t, uint64(0), pub.PacketsSent())

	bos := []byte{'O', 'g', 'g', 'S', 0x00, 0x02, 0x01, 0x02, 0x03}
	session.emit(domain.EncodedChunk{Data: bos, TimestampUs: 120_000}, nil)

	_, pt, payload := readPacket(t, micStream)
	require.Equal(t, protocol.PacketOther, pt)
	var cfg protocol.StreamConfigMessage
	require.NoError(t, json.Unmarshal(payload, &cfg))
	assert.Equal(t, "audio", cfg.MediaType)
	assert.Equal(t, 48000, cfg.Config.SampleRate)

	_, pt, payload = readPacket(t, micStream)
	assert.Equal(t, protocol.PacketAudio, pt)
	assert.Equal(t, bos, payload)
}

func TestPublisher_AudioPacedOnChunkInterval(t *testing.T) {
	opts := defaultPublisherOptions()
	opts.AudioChunkDuration = 250 * time.Millisecond
	pub, remote, _ := startPublisher(t, opts)

	session := &fakeEncoderSession{}
	template := domain.DecoderConfig{Codec: "opus", SampleRate: 48000, NumberOfChannels: 2}
	require.NoError(t, pub.AddTrack(domain.PurposeMicrophone, template, session))
	_, micStream := acceptStream(t, remote)

	bos := []byte{'O', 'g', 'g', 'S', 0x00, 0x02, 0x01}
	session.emit(domain.EncodedChunk{Data: bos, TimestampUs: 0}, nil)
	for i := 1; i <= 3; i++ {
		session.emit(domain.EncodedChunk{Data: []byte{byte(i)}, TimestampUs: int64(i) * 20_000}, nil)
	}

	// the config unit goes straight out; media waits for the pacer ticks
	_, pt, _ := readPacket(t, micStream)
	require.Equal(t, protocol.PacketOther, pt)
	assert.Equal(t, uint64(0), pub.PacketsSent())

	start := time.Now()
	want := [][]byte{bos, {1}, {2}, {3}}
	for _, expected := range want {
		_, pt, payload := readPacket(t, micStream)
		assert.Equal(t, protocol.PacketAudio, pt)
		assert.Equal(t, expected, payload)
	}
	// four chunks need at least three full intervals between sends
	assert.GreaterOrEqual(t, time.Since(start), 3*opts.AudioChunkDuration)
	assert.Equal(t, uint64(4), pub.PacketsSent())
}

func TestPublisher_EncoderBacklogDropsFrames(t *testing.T) {
	pub, remote, _ := startPublisher(t, defaultPublisherOptions())

	session := &fakeEncoderSession{}
	require.NoError(t, pub.AddTrack(domain.PurposeCameraLow, domain.DecoderConfig{Codec: "vp8"}, session))
	acceptStream(t, remote)

	session.queueDepth.Store(10)
	meta := &domain.DecoderConfig{Codec: "vp8"}
	session.emit(domain.EncodedChunk{Data: []byte("late"), TimestampUs: 1, IsKey: true}, meta)

	assert.Equal(t, uint64(1), pub.FramesDropped())
	assert.Equal(t, uint64(0), pub.PacketsSent())

	// backlog clears, frames flow again
	session.queueDepth.Store(0)
	session.emit(domain.EncodedChunk{Data: []byte("fresh"), TimestampUs: 2, IsKey: true}, meta)
	assert.Equal(t, uint64(1), pub.PacketsSent())
}

func TestPublisher_MeetingEvents(t *testing.T) {
	local, _ := memory.NewPair()
	pub := NewPublisher(local, NewSyncClock(), defaultPublisherOptions(), zap.NewNop())

	// before Start the control stream is not open: drop, do not fail
	require.NoError(t, pub.SendMeetingEvent(context.Background(), protocol.MeetingMicOn, ""))

	pub2, _, eventStream := startPublisher(t, defaultPublisherOptions())
	require.NoError(t, pub2.SendMeetingEvent(context.Background(), protocol.MeetingPinForEveryone, "target-9"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unit, err := eventStream.ReadUnit(ctx)
	require.NoError(t, err)

	var evt protocol.MeetingEvent
	require.NoError(t, json.Unmarshal(unit, &evt))
	assert.Equal(t, protocol.MeetingPinForEveryone, evt.Type)
	assert.Equal(t, "pub-1", evt.SenderStreamID)
	assert.Equal(t, "target-9", evt.TargetStreamID)
	assert.NotZero(t, evt.Timestamp)
}

func TestPublisher_FecSymbolsRecoverable(t *testing.T) {
	opts := defaultPublisherOptions()
	opts.FecEngine = rsengine.New()
	opts.MTU = 64
	opts.RepairCount = 1
	pub, remote, _ := startPublisher(t, opts)

	session := &fakeEncoderSession{}
	require.NoError(t, pub.AddTrack(domain.PurposeCameraHigh, domain.DecoderConfig{Codec: "vp8"}, session))
	_, camStream := acceptStream(t, remote)

	payload := []byte("one encoded video chunk that spans a couple of fec symbols at mtu 64")
	meta := &domain.DecoderConfig{Codec: "vp8"}
	session.emit(domain.EncodedChunk{Data: payload, TimestampUs: 500_000, IsKey: true}, meta)

	// config unit, then every symbol of the chunk
	_, pt, _ := readPacket(t, camStream)
	require.Equal(t, protocol.PacketOther, pt)

	sent := int(pub.PacketsSent())
	require.GreaterOrEqual(t, sent, 2)

	var dec *fec.Decoder
	var recovered []fec.Chunk
	for i := 0; i < sent; i++ {
		_, pt, body := readPacket(t, camStream)
		require.Equal(t, protocol.PacketVideoHighKey, pt)

		chunkID, cfgBuf, symbol, err := fec.UnwrapSymbol(body)
		require.NoError(t, err)
		if dec == nil {
			engineDec, err := rsengine.New().NewChunkDecoder(cfgBuf)
			require.NoError(t, err)
			dec = fec.NewDecoder(engineDec)
		}
		if i == 0 {
			continue // first symbol lost; repair covers it
		}
		out, err := dec.Process(symbol, chunkID)
		require.NoError(t, err)
		recovered = append(recovered, out...)
	}

	require.Len(t, recovered, 1)
	assert.Equal(t, payload, recovered[0].Data)
}

func TestPublisher_ScreenShareCombinedConfig(t *testing.T) {
	pub, remote, _ := startPublisher(t, defaultPublisherOptions())

	videoSession := &fakeEncoderSession{}
	audioSession := &fakeEncoderSession{}
	require.NoError(t, pub.StartScreenShare(
		domain.DecoderConfig{Codec: "vp8"}, videoSession,
		domain.DecoderConfig{Codec: "opus", SampleRate: 48000}, audioSession,
	))

	purpose, screenStream := acceptStream(t, remote)
	require.Equal(t, domain.PurposeScreen, purpose)
	purpose, screenAudioStream := acceptStream(t, remote)
	require.Equal(t, domain.PurposeScreenAudio, purpose)

	// video config alone must not open the gate
	meta := &domain.DecoderConfig{Codec: "vp8", CodedWidth: 1920, CodedHeight: 1080}
	videoSession.emit(domain.EncodedChunk{Data: []byte("screen-key"), TimestampUs: 10_000, IsKey: true}, meta)
	assert.Equal(t, uint64(0), pub.PacketsSent())

	// audio boundary completes the pair; one combined message on each channel
	bos := []byte{'O', 'g', 'g', 'S', 0x00, 0x02, 0xAA}
	audioSession.emit(domain.EncodedChunk{Data: bos, TimestampUs: 12_000}, nil)

	for _, st := range []ports.Stream{screenStream, screenAudioStream} {
		_, pt, payload := readPacket(t, st)
		require.Equal(t, protocol.PacketOther, pt)
		var msg protocol.DecoderConfigsMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, protocol.MsgDecoderConfigs, msg.Type)
		require.NotNil(t, msg.VideoConfig)
		require.NotNil(t, msg.AudioConfig)
		assert.Equal(t, 1920, msg.VideoConfig.CodedWidth)
		assert.Equal(t, 48000, msg.AudioConfig.SampleRate)
	}

	// both sub-streams now flow
	videoSession.emit(domain.EncodedChunk{Data: []byte("screen-delta"), TimestampUs: 43_000}, nil)
	_, pt, payload := readPacket(t, screenStream)
	assert.Equal(t, protocol.PacketScreenDelta, pt)
	assert.Equal(t, []byte("screen-delta"), payload)

	audioSession.emit(domain.EncodedChunk{Data: []byte("audio-chunk"), TimestampUs: 44_000}, nil)
	_, pt, payload = readPacket(t, screenAudioStream)
	assert.Equal(t, protocol.PacketAudio, pt)
	assert.Equal(t, []byte("audio-chunk"), payload)
}

func TestPublisher_StopIsIdempotent(t *testing.T) {
	pub, remote, _ := startPublisher(t, defaultPublisherOptions())

	session := &fakeEncoderSession{}
	require.NoError(t, pub.AddTrack(domain.PurposeCameraHigh, domain.DecoderConfig{Codec: "vp8"}, session))
	acceptStream(t, remote)

	pub.Stop()
	pub.Stop()

	assert.Equal(t, int64(1), session.flushes.Load())
	assert.Equal(t, int64(1), session.closes.Load())
	assert.ErrorIs(t, pub.AddTrack(domain.PurposeCameraLow, domain.DecoderConfig{}, &fakeEncoderSession{}), domain.ErrChannelClosed)

	// encoder output after stop is ignored
	session.emit(domain.EncodedChunk{Data: []byte("late"), TimestampUs: 99}, nil)
	assert.Equal(t, uint64(0), pub.PacketsSent())
}
