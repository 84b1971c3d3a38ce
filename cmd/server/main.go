package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/allopze/cloudbox-wopi/internal/app"
	"github.com/allopze/cloudbox-wopi/internal/config"
	"github.com/allopze/cloudbox-wopi/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start: %v", err)
		os.Exit(1)
	}
	defer application.Close()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: application.Handler(),
	}

	go func() {
		logger.Info("Starting WOPI host on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}
