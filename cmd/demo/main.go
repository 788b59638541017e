package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpapi "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/client"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	opts := client.Options{
		URL:        cfg.ServerURL,
		ICEServers: cfg.ICEServers,
	}
	if cfg.Token != "" {
		opts.RequestParams = map[string]any{"token": cfg.Token}
	}

	cl, err := client.Dial(ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.ServerURL).Msg("failed to connect")
	}

	roomOpts := domain.NewRoomOptions(domain.RoomName(cfg.Room), domain.ParticipantID(cfg.User))
	roomOpts.SubscribeToStreams = cfg.SubscribeToStreams
	if cfg.CandidateTarget == "webcam" {
		roomOpts.CandidateTarget = domain.CandidateWebcamOnly
	}

	room, err := cl.Room(roomOpts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create room session")
	}

	room.OnEvent(func(ev core.RoomEvent) {
		switch e := ev.(type) {
		case core.RoomConnectedEvent:
			log.Info().Int("participants", len(e.Participants)).Int("streams", len(e.Streams)).Msg("room connected")
		case core.RoomErrorEvent:
			log.Error().Err(e.Err).Msg("room error")
		case core.ParticipantEvictedEvent:
			log.Warn().Msg("evicted from room, closing")
			cancel()
		case core.RoomClosedEvent:
			log.Warn().Str("room", string(e.Room)).Msg("room closed by server")
			cancel()
		case core.StreamAddedEvent:
			sink := media.NewStatsSink()
			e.Stream.AttachSink(sink)
		case core.NewMessageEvent:
			log.Info().Str("user", e.Message.User).Str("text", e.Message.Message).Msg("chat")
		}
	})

	ctl := httpapi.NewController(cl)
	ctl.Bind(room)

	if err := room.Connect(ctx); err != nil {
		cl.Close(ctx, true)
		log.Fatal().Err(err).Msg("join failed")
	}

	// Publish the webcam; the demo keeps running subscribe-only when the
	// devices are unavailable.
	streamOpts := domain.NewStreamOptions()
	streamOpts.Loopback = cfg.Loopback
	local := cl.Stream(room, streamOpts)
	if err := local.AcquireLocalMedia(core.DefaultConstraints()); err != nil {
		log.Warn().Err(err).Msg("no local media, not publishing")
	} else if err := local.Publish(ctx); err != nil {
		log.Error().Err(err).Msg("publish failed")
	} else {
		ctl.SetLocalStream(local)
	}

	r := httpapi.SetupRouter(cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Info().Str("addr", addr).Msg("Meet demo started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	cl.Close(shutdownCtx, false)
	log.Info().Msg("Demo exited gracefully")
}
