// classroom is a headless conferencing client: it authenticates, joins a
// room by code and logs room events until interrupted. Useful as a smoke
// test against a running control plane and as a wiring example.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/services"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/fec/rsengine"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/controlplane"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/monitoring"
	signalfeed "github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/signal"
	webrtctransport "github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/infrastructure/transport/webrtc"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/media/headless"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/config"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/logger"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/tracing"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		roomCode   = flag.String("room", "", "room code to join")
		userID     = flag.String("user", "guest", "user identifier")
		username   = flag.String("username", "", "login username")
		password   = flag.String("password", "", "login password")
	)
	flag.Parse()

	if *roomCode == "" {
		log.Fatal("usage: classroom -room <code> [-user <id>] [-config <path>]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := logger.New(cfg.Logging.Level)
	defer zl.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "classroom-client",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		zl.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	api := controlplane.NewClient(controlplane.DefaultOptions(cfg.Client.APIBaseURL), zl)
	auth := controlplane.NewAuthenticator(cfg.Client.APIBaseURL,
		controlplane.Credentials{Username: *username, Password: *password},
		api.SetToken)
	dialer := webrtctransport.NewDialer(webrtctransport.DialerOptions{
		SignalURL: cfg.Client.MediaURL,
	}, zl)

	client := services.NewClient(cfg, services.ClientDeps{
		API:    api,
		Auth:   auth,
		Dialer: dialer,
		Media:  headless.NewProvider(),
		Feeds: func(token string, roomID domain.RoomID) ports.EventFeed {
			return signalfeed.NewFeed(signalfeed.FeedOptions{
				URL:    cfg.Client.SignalURL,
				Token:  token,
				RoomID: roomID,
			}, zl)
		},
		FecEngine: rsengine.New(),
	}, zl)
	client.OnEvent(func(evt domain.ClientEvent) {
		zl.Info("client event", zap.String("kind", string(evt.Kind)), zap.Int("attempt", evt.Attempt))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	room, err := client.JoinRoom(ctx, *roomCode, domain.UserID(*userID))
	if err != nil {
		zl.Fatal("join failed", zap.Error(err))
	}
	zl.Info("joined room",
		zap.String("room_id", string(room.ID())),
		zap.Int("participants", len(room.Participants())))

	room.OnEvent(func(evt domain.RoomEvent) {
		zl.Info("room event",
			zap.String("kind", string(evt.Kind)),
			zap.String("user_id", string(evt.UserID)))
	})

	var exporter *monitoring.Exporter
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewCollector(nil)
		exporter = monitoring.NewExporter(cfg.Monitoring.PrometheusPort, zl)
		exporter.Start()
		go pollMetrics(ctx, collector, client, room)
	}

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Close(shutdownCtx)
	if exporter != nil {
		exporter.Shutdown(shutdownCtx)
	}
}

func pollMetrics(ctx context.Context, collector *monitoring.Collector, client *services.Client, room *services.Room) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			collector.RecordSession(room.ID(), room.Metrics())
			collector.RecordParticipants(room.ID(), len(room.Participants()))
			collector.RecordReconnectAttempts(client.ReconnectAttempts())
		case <-ctx.Done():
			return
		}
	}
}
