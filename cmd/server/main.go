package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"primeduel/internal/auth"
	"primeduel/internal/clock"
	"primeduel/internal/config"
	"primeduel/internal/hub"
	"primeduel/internal/server"
	"primeduel/internal/session"
	"primeduel/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(cfg.Level())
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("load rules")
	}
	registry, err := config.Registry(rules, cfg.DefaultDifficulty)
	if err != nil {
		logger.Fatal().Err(err).Msg("build rules registry")
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer store.Close()

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
		logger.Warn().Msg("TOKEN_SECRET not set, identity tokens will not survive a restart")
	}
	accounts := auth.NewService(store, secret, cfg.TokenTTL)

	conns := server.NewConns(logger)
	h := hub.New(registry, accounts, conns, clock.Real(), hub.Config{
		Tolerance:        cfg.RatingTolerance,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		RoomTTL:          cfg.RoomTTL,
		Timing:           session.DefaultTiming,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go h.SweepLoop(ctx, cfg.SweepInterval)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(h, conns, registry, store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("difficulties", len(rules)).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Str("state", h.String()).Msg("server stopped")
}
