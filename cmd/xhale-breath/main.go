package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "xhale-breath/common/logger"
	"xhale-breath/internal/config"
	"xhale-breath/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "xhale-breath")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting xhale-breath service",
		zap.String("sensor_topic", cfg.Breath.Topics.Sensor),
		zap.String("command_topic", cfg.Breath.Topics.Command),
		zap.String("output_stream", cfg.Breath.Stream.Output),
		zap.String("calibration_source", cfg.Breath.Calibration.Source),
		zap.Int("warmup_seconds", cfg.Breath.WarmupSeconds),
		zap.Int("sample_duration", cfg.Breath.DefaultSampleDurationSec),
	)

	breathService, err := service.NewBreathService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create breath service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := breathService.Start(ctx); err != nil {
			logger.Fatal("Failed to start breath service", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if err := breathService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
