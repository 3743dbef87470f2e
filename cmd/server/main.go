package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/Confidra/internal/server"
	"github.com/jacksonlee411/Confidra/pkg/logging"
)

func main() {
	logger := logging.New("guard-server")

	cfg, err := server.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := server.NewHandlerWithOptions(ctx, server.HandlerOptions{Config: cfg, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("build handler")
	}
	defer h.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		h.Close()
		os.Exit(1)
	}
}
