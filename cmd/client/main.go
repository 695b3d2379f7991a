package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/adapters/httpapi"
	"github.com/dkeye/meshvoice/internal/adapters/media"
	"github.com/dkeye/meshvoice/internal/adapters/rtc"
	signaladapter "github.com/dkeye/meshvoice/internal/adapters/signal"
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	me := domain.User{ID: domain.UserID(cfg.UserID), Login: cfg.Login}
	if me.ID == "" {
		u, err := domain.NewUser(cfg.Login)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid login")
		}
		me = *u
	}

	iceCfg := webrtc.Configuration{}
	for _, s := range cfg.ICEServers {
		iceCfg.ICEServers = append(iceCfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	source, err := media.NewProvider()
	if err != nil {
		log.Fatal().Err(err).Msg("media provider")
	}

	client := signaladapter.NewClient(signaladapter.Options{
		URL:        cfg.SignalURL,
		User:       me,
		PingPeriod: cfg.PingPeriod,
	})

	factory := func(remote domain.UserID) (core.MediaConnection, error) {
		return rtc.NewConnection(iceCfg, remote)
	}
	registry := app.NewRegistry(me.ID, client, source, factory, media.LogSink{})

	orchestrator := &orch.Orchestrator{
		Registry:    registry,
		Transport:   client,
		CurrentUser: me,
	}
	orchestrator.Subscribe(ctx)
	client.OnReconnected(func() {
		if room := orchestrator.Room(); room != nil {
			if err := client.JoinRoom(room.ID); err != nil {
				log.Warn().Err(err).Msg("rejoin after reconnect")
			}
		}
	})

	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("url", cfg.SignalURL).Msg("signaling connect")
	}

	r := httpapi.SetupRouter(cfg, orchestrator)
	addr := fmt.Sprintf(":%d", cfg.APIPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", string(me.ID)).Msg("meshvoice client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if err := orchestrator.LeaveCall(); err != nil && err != orch.ErrNotInCall {
		log.Warn().Err(err).Msg("leave call on shutdown")
	}
	client.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server forced to shutdown")
	}
	log.Info().Msg("client exited gracefully")
}
