package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"call-review-go/internal/api"
	"call-review-go/internal/app"
	"call-review-go/internal/config"
	"call-review-go/internal/logger"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "call-review-go").Info("starting service")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	a, err := app.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start pipeline")
	}

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(a.Pool, a.Reports, a.Metrics, log).Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// Processing a call runs every stage, so writes get the longest
		// stage timeout budget several times over.
		WriteTimeout: 4*cfg.Pipeline.MaxStageTimeout() + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	if err := a.Close(); err != nil {
		log.WithError(err).Warn("closing sinks")
	}
}
