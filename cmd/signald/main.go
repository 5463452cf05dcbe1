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
	"github.com/spf13/pflag"

	"github.com/lumastream/signalcore/internal/auth"
	"github.com/lumastream/signalcore/internal/config"
	"github.com/lumastream/signalcore/internal/server"
)

func main() {
	configPath := pflag.String("config", "", "path to yaml config")
	port := pflag.Int("port", 0, "listen port (overrides config)")
	debug := pflag.Bool("debug", false, "debug logging")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret must be set")
	}

	verifier, err := auth.NewVerifier(cfg.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("verifier setup")
	}

	routerCfg := server.RouterConfig{
		Mode: cfg.Mode,
		Options: server.Options{
			ReadLimit:   cfg.ReadLimit,
			PingPeriod:  cfg.PingPeriod,
			PublishRate: cfg.PublishRateLimit,
			PublishWin:  cfg.PublishRateWindow,
			LoginRate:   cfg.LoginRateLimit,
			LoginWin:    cfg.LoginRateWindow,
		},
	}
	if cfg.Mode != "release" {
		issuer, ierr := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
		if ierr != nil {
			log.Fatal().Err(ierr).Msg("issuer setup")
		}
		routerCfg.Issuer = issuer
	}

	hub := server.NewHub()
	r := server.SetupRouter(ctx, routerCfg, hub, verifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signald started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
