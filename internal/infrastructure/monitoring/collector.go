// Package monitoring exports media-plane counters to Prometheus. The
// collector is fed from periodic session snapshots; it never reaches into
// the media plane itself.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
)

type Collector struct {
	packetsSentTotal    *prometheus.GaugeVec
	packetsDroppedTotal *prometheus.GaugeVec
	encoderDropsTotal   *prometheus.GaugeVec

	fecRecoveredTotal *prometheus.GaugeVec
	fecExpiredTotal   *prometheus.GaugeVec
	decoderBufferSize *prometheus.GaugeVec

	participantsConnected *prometheus.GaugeVec
	reconnectAttempts     prometheus.Gauge
}

// NewCollector registers the metric families. A nil registerer uses the
// default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		packetsSentTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_packets_sent_total",
			Help: "Total number of media packets sent",
		}, []string{"room_id"}),

		packetsDroppedTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_packets_dropped_total",
			Help: "Total number of inbound packets dropped before decode",
		}, []string{"room_id"}),

		encoderDropsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_encoder_frames_dropped_total",
			Help: "Total number of frames dropped due to encoder backlog",
		}, []string{"room_id"}),

		fecRecoveredTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_fec_chunks_recovered_total",
			Help: "Total number of chunks recovered by forward error correction",
		}, []string{"room_id", "user_id"}),

		fecExpiredTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_fec_chunks_expired_total",
			Help: "Total number of chunks abandoned as unrecoverable",
		}, []string{"room_id", "user_id"}),

		decoderBufferSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_decoder_buffer_size",
			Help: "Pending chunks buffered in the FEC decoder",
		}, []string{"room_id", "user_id"}),

		participantsConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ermis_participants_connected",
			Help: "Number of connected participants per room",
		}, []string{"room_id"}),

		reconnectAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ermis_reconnect_attempts_total",
			Help: "Lifetime count of reconnection attempts",
		}),
	}
}

// RecordSession publishes one room's counter snapshot.
func (c *Collector) RecordSession(roomID domain.RoomID, m domain.SessionMetrics) {
	room := string(roomID)
	c.packetsSentTotal.WithLabelValues(room).Set(float64(m.PacketsSent))
	c.packetsDroppedTotal.WithLabelValues(room).Set(float64(m.PacketsDropped))
	c.encoderDropsTotal.WithLabelValues(room).Set(float64(m.EncoderDrops))
}

// RecordDecoderHealth publishes one subscriber's FEC decoder snapshot.
func (c *Collector) RecordDecoderHealth(roomID domain.RoomID, userID domain.UserID, h domain.DecoderHealth) {
	room, user := string(roomID), string(userID)
	c.fecRecoveredTotal.WithLabelValues(room, user).Set(float64(h.ChunksRecovered))
	c.fecExpiredTotal.WithLabelValues(room, user).Set(float64(h.ChunksExpired))
	c.decoderBufferSize.WithLabelValues(room, user).Set(float64(h.BufferSize))
}

// RecordParticipants publishes the roster size.
func (c *Collector) RecordParticipants(roomID domain.RoomID, count int) {
	c.participantsConnected.WithLabelValues(string(roomID)).Set(float64(count))
}

// RecordReconnectAttempts publishes the lifetime reconnect counter.
func (c *Collector) RecordReconnectAttempts(attempts uint64) {
	c.reconnectAttempts.Set(float64(attempts))
}

// ForgetRoom drops the labeled series of a room that was left.
func (c *Collector) ForgetRoom(roomID domain.RoomID) {
	room := prometheus.Labels{"room_id": string(roomID)}
	c.packetsSentTotal.DeletePartialMatch(room)
	c.packetsDroppedTotal.DeletePartialMatch(room)
	c.encoderDropsTotal.DeletePartialMatch(room)
	c.fecRecoveredTotal.DeletePartialMatch(room)
	c.fecExpiredTotal.DeletePartialMatch(room)
	c.decoderBufferSize.DeletePartialMatch(room)
	c.participantsConnected.DeletePartialMatch(room)
}

// Exporter serves the Prometheus scrape endpoint.
type Exporter struct {
	server *http.Server
	logger *zap.Logger
}

// NewExporter builds the /metrics server on the given port.
func NewExporter(port int, logger *zap.Logger) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Exporter{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger.Named("metrics"),
	}
}

// Start serves until Shutdown.
func (e *Exporter) Start() {
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the scrape endpoint.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
