// Command server is the Undercover game backend entrypoint: it loads
// configuration, wires every component (C1-C10), and serves HTTP/WS
// traffic until an interrupt signal arrives. Startup sequencing and
// graceful shutdown are grounded on the teacher's main.go
// (config.Load -> database.InitRedis -> hub -> router -> signal.Notify),
// generalized to the richer internal/ package layout.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"undercover/internal/auth"
	"undercover/internal/config"
	"undercover/internal/filter"
	"undercover/internal/httpapi"
	"undercover/internal/logging"
	"undercover/internal/ratelimit"
	"undercover/internal/room"
	"undercover/internal/store"
	"undercover/internal/wordbank"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Initialize(cfg.IsDevelopment()); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting undercover server",
		zap.String("environment", cfg.Environment),
		zap.Int("http_port", cfg.Server.HTTPPort))

	bank, err := wordbank.Load(cfg.WordBank.FilePath)
	if err != nil {
		return fmt.Errorf("load word bank: %w", err)
	}
	logging.Info(ctx, "word bank loaded", zap.Int("pairs", bank.Len()))

	st, err := store.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect persistence store: %w", err)
	}

	contentFilter := filter.New(cfg.Security.SensitiveWords, filter.Replace, cfg.Security.Replacement)

	roomCfg := room.Config{
		MinPlayers:        cfg.Game.MinPlayers,
		MaxPlayers:        cfg.Game.MaxPlayers,
		DescribeTimeLimit: cfg.Game.DescribeTimeLimit,
		VoteTimeLimit:     cfg.Game.VoteTimeLimit,
		RoundDelay:        cfg.Game.RoundDelay,
		ChatHistoryLimit:  20,
	}
	registry := room.NewRegistry(roomCfg, bank, contentFilter, st)

	lifecycle := room.NewLifecycleManager(registry, st, cfg.Room.HeartbeatInterval, cfg.Room.MaxIdleTime)
	go lifecycle.Run()
	defer lifecycle.Stop()

	sessions := auth.NewSessionIssuer(cfg.Auth.JWTSecret, 24*time.Hour)

	var relyingParty *auth.RelyingParty
	if cfg.Auth.Domain != "" {
		relyingParty, err = auth.NewRelyingParty(ctx, cfg.Auth.Domain, cfg.Auth.Audience)
		if err != nil {
			return fmt.Errorf("init openid relying party: %w", err)
		}
	}

	httpLimiter, err := ratelimit.NewHTTPLimiter("20-M", "60-M")
	if err != nil {
		return fmt.Errorf("init http rate limiter: %w", err)
	}

	srv := httpapi.NewServer(&httpapi.Server{
		Registry:     registry,
		Sessions:     sessions,
		RelyingParty: relyingParty,
		Store:        st,
		HTTPLimiter:  httpLimiter,
		CORS: httpapi.CORSConfig{
			AllowAllOrigins: cfg.CORS.AllowAllOrigins,
			AllowedOrigins:  cfg.CORS.AllowedOrigins,
		},
		StaticDir:    "./static",
		CallbackBase: fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		MaxIdleTime:  cfg.Room.MaxIdleTime,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: srv.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", httpServer.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case <-sigint:
		logging.Info(ctx, "shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "graceful shutdown error", logging.Err(err))
		}
	}

	return nil
}
