package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/pkg/injector"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(config.LoggerConfig())
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	logger.SetGlobal(log)

	log.Info("config loaded successfully",
		zap.String("database", config.Database.Driver),
		zap.String("storage", config.Storage.Driver),
		zap.String("classifier", config.Classifier.Provider),
		zap.String("queue", config.Queue.Driver),
	)

	app, cleanup, err := injector.InitializeApp(config, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.HTTPServer.Start()
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down server...", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.HTTPServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	// stops the classification worker before the connections it uses
	cleanup()

	log.Info("server exited")
}
