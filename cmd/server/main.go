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

	"labtrail/internal/app"
	"labtrail/internal/platform/config"
	"labtrail/internal/platform/httpserver"
	"labtrail/internal/platform/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, log, app.NewTelemetry())
	if err != nil {
		log.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg.Addr, application.Handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting labtrail",
			"addr", cfg.Addr,
			"storage", cfg.Storage.Backend,
			"audit_store", cfg.Audit.Store,
			"kafka_mirror", len(cfg.Kafka.Brokers) > 0,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		// in-flight requests have finished; flush their audit entries
		if cerr := application.Close(shutdownCtx); cerr != nil {
			log.Error("failed to release resources", "error", cerr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
