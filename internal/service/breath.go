package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"xhale-breath/common/database"
	mqttcommon "xhale-breath/common/mqtt"
	rediscommon "xhale-breath/common/redis"
	"xhale-breath/internal/analysis"
	"xhale-breath/internal/calibration"
	"xhale-breath/internal/config"
	"xhale-breath/internal/consumer"
	"xhale-breath/internal/repository"
	"xhale-breath/internal/session"
	"xhale-breath/internal/warmup"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BreathService breath analysis service: MQTT in, Postgres and Redis out
type BreathService struct {
	config         *config.Config
	logger         *zap.Logger
	db             *sql.DB
	redisClient    *redis.Client
	mqttClient     *mqttcommon.Client
	registry       *Registry
	calibration    *calibration.Cache
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer
}

// NewBreathService connects every backend and wires the components
func NewBreathService(cfg *config.Config, logger *zap.Logger) (*BreathService, error) {
	coeffs, err := config.LoadCoefficients(cfg.Breath.CoefficientsFile)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	sessionRepo := repository.NewSessionRepository(db, logger)
	fetcher := newCalibrationFetcher(cfg, db, redisClient, logger)
	calibrationCache := calibration.NewCache(fetcher, cfg.CalibrationTimeout(), logger)
	resultCache := consumer.NewResultCache(
		redisClient,
		cfg.Breath.Cache.ResultKeyPrefix,
		time.Duration(cfg.Breath.Cache.ResultTTL)*time.Second,
		cfg.Breath.Stream.Output,
		logger,
	)

	registry := NewRegistry(session.Config{
		Analyzer:    analysis.NewAnalyzer(coeffs),
		Calibration: calibrationCache,
		Store:       sessionRepo,
		Publisher:   resultCache,
		Warmup: warmup.Config{
			WarmupSeconds: cfg.Breath.WarmupSeconds,
			CaptureDelay:  time.Duration(cfg.Breath.BaselineCaptureDelaySec) * time.Second,
		},
	}, cfg.Breath.DefaultSampleDurationSec, logger)
	registry.SetStatusReporting(resultCache, mqttClient.IsConnected)

	s := &BreathService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		registry:    registry,
		calibration: calibrationCache,
		mqttConsumer: consumer.NewMQTTConsumer(
			cfg.Breath.Topics.Sensor,
			cfg.Breath.Topics.Command,
			cfg.MQTT.QoS,
			mqttClient,
			registry,
			logger,
		),
	}
	if cfg.Breath.Stream.Input != "" {
		s.streamConsumer = consumer.NewStreamConsumer(consumer.StreamConsumerConfig{
			Stream:        cfg.Breath.Stream.Input,
			ConsumerGroup: cfg.Breath.ConsumerGroup,
			ConsumerName:  cfg.Breath.ConsumerName,
			BatchSize:     cfg.Breath.BatchSize,
		}, redisClient, registry, logger)
	}
	return s, nil
}

// newCalibrationFetcher Postgres or REST source, behind the Redis document cache
func newCalibrationFetcher(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) calibration.Fetcher {
	var source calibration.Fetcher
	switch cfg.Breath.Calibration.Source {
	case config.CalibrationSourceHTTP:
		source = calibration.NewHTTPFetcher(
			cfg.Breath.Calibration.APIBaseURL,
			cfg.Breath.Calibration.APIToken,
			cfg.CalibrationTimeout(),
			logger,
		)
	default:
		source = repository.NewCalibrationRepository(db, logger)
	}
	return calibration.NewRedisCachedFetcher(
		source,
		rediscommon.NewRedisKVStore(redisClient),
		cfg.Breath.Cache.CalibrationKeyPrefix,
		time.Duration(cfg.Breath.Cache.CalibrationTTL)*time.Second,
		logger,
	)
}

// Start runs the consumers until ctx is done
func (s *BreathService) Start(ctx context.Context) error {
	s.logger.Info("Starting breath analysis service components")

	if s.streamConsumer != nil {
		go func() {
			if err := s.streamConsumer.Start(ctx); err != nil {
				s.logger.Error("Stream consumer stopped", zap.Error(err))
			}
		}()
	}

	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}
	return nil
}

// Stop unsubscribes, aborts running sessions and closes every backend
func (s *BreathService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping breath analysis service")

	if err := s.mqttConsumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping mqtt consumer", zap.Error(err))
	}
	s.registry.Close()
	s.calibration.Wait()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Breath analysis service stopped")
	return nil
}

// Registry device sessions of this service
func (s *BreathService) Registry() *Registry {
	return s.registry
}
