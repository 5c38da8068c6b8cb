// Stride Assistant — the conversational query service for the Stride
// project-tracking platform.
//
// It provides:
//   - Assistant query pipeline (admission control, session context,
//     model orchestration with deterministic fallback)
//   - Redacted, batched audit trail
//   - Reminder scheduling and notification dispatch
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

	"github.com/stridehq/stride/pkg/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("stride assistant starting")

	ctx := context.Background()
	srv, err := server.New(ctx, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	schedCtx, stopScheduler := context.WithCancel(ctx)
	srv.StartScheduler(schedCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown: drain HTTP, stop the reminder sweep, then let the
	// server flush audit records and telemetry before the stores close.
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown failed")
		}
		stopScheduler()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", srv.Port).Msg("stride assistant listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
	<-done
}
