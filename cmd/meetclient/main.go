package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/meet/internal/adapters/capture"
	router "github.com/dkeye/meet/internal/adapters/http"
	"github.com/dkeye/meet/internal/adapters/rtc"
	sig "github.com/dkeye/meet/internal/adapters/signal"
	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/orch"
	"github.com/dkeye/meet/internal/config"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)
	if cfg.Source == "" {
		log.Warn().Msg("config file not found, using defaults and environment")
	} else {
		log.Info().Str("file", cfg.Source).Msg("loaded config")
	}
	if len(cfg.Rooms) == 0 {
		log.Fatal().Msg("no rooms configured")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	reg := app.NewRegistry()

	srv := &http.Server{
		Addr:    cfg.DiagnosticsAddr,
		Handler: router.SetupRouter(cfg, reg, prometheus.DefaultGatherer),
	}
	go func() {
		log.Info().Str("addr", cfg.DiagnosticsAddr).Msg("diagnostics server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("diagnostics server error")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, room := range cfg.Rooms {
		g.Go(func() error { return runRoom(gctx, cfg, reg, m, domain.RoomID(room)) })
	}
	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("diagnostics server forced to shutdown")
	}
	if err != nil {
		log.Error().Err(err).Msg("exited with a failed session")
		os.Exit(1)
	}
	log.Info().Msg("exited gracefully")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// runRoom joins one room and stays until ctx ends or the session fails.
func runRoom(ctx context.Context, cfg *config.Config, reg *app.Registry, m *metrics.Metrics, room domain.RoomID) error {
	logger := log.With().Str("module", "main").Str("room", string(room)).Logger()

	engine := rtc.NewEngine(rtc.Options{
		ICEServers: cfg.ICEServers,
		OnConsumer: func(c *rtc.Consumer) {
			stats := &rtc.StatsSink{}
			c.Attach("stats", stats)
			go func() {
				<-c.Done()
				logger.Info().
					Str("flow_id", string(c.ID())).
					Uint64("packets", stats.Packets()).
					Uint64("bytes", stats.Bytes()).
					Uint64("lost", stats.Lost()).
					Msg("inbound flow finished")
			}()
		},
	})
	provider := capture.NewProvider(capture.Options{
		AudioFile: cfg.Capture.AudioFile,
		VideoFile: cfg.Capture.VideoFile,
	})

	s, err := orch.NewSession(orch.Options{
		Room:             room,
		DisplayName:      cfg.DisplayName,
		HandshakeTimeout: cfg.HandshakeTimeout,
		OrphanTimeout:    cfg.OrphanTimeout,
		EventBuffer:      cfg.EventBuffer,
		Capture:          core.CaptureConstraints{Audio: cfg.Capture.Audio, Video: cfg.Capture.Video},
	}, orch.Deps{
		Engine:  engine,
		Capture: provider,
		Policy:  app.SimplePolicy{},
		Metrics: m,
	})
	if err != nil {
		return err
	}
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()
	go logEvents(logger, events)

	leave := func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Leave(leaveCtx); err != nil {
			logger.Error().Err(err).Msg("leave")
		}
	}

	conn, err := sig.Dial(ctx, cfg.SignalURL, s, sig.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		leave()
		return err
	}
	sid := reg.Register(s)
	defer reg.Unregister(sid)

	if err := s.Join(ctx, conn); err != nil {
		conn.Close()
		leave()
		return err
	}

	select {
	case <-ctx.Done():
		leave()
		return nil
	case <-s.Done():
		if err := s.Err(); err != nil {
			return err
		}
		// left through the API
		return nil
	}
}

func logEvents(logger zerolog.Logger, events <-chan orch.Event) {
	for ev := range events {
		switch ev := ev.(type) {
		case orch.PhaseChanged:
			logger.Info().Str("from", ev.From).Str("to", ev.To).Msg("session phase")
		case orch.PeerAdded:
			logger.Info().Str("peer_id", string(ev.Peer.ID)).Str("name", ev.Peer.DisplayName).Msg("peer joined")
		case orch.PeerRemoved:
			logger.Info().Str("peer_id", string(ev.Peer.ID)).Msg("peer left")
		case orch.FlowAdded:
			logger.Info().Str("flow_id", string(ev.Flow.ID)).Str("direction", string(ev.Flow.Direction)).Str("kind", string(ev.Flow.Kind)).Msg("flow added")
		default:
			logger.Debug().Str("event", ev.EventName()).Msg("session event")
		}
	}
}
