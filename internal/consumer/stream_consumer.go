package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "xhale-breath/common/redis"
	"xhale-breath/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConsumerConfig Redis stream input settings
type StreamConsumerConfig struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
}

// StreamConsumer reads sensor events relayed onto a Redis stream
type StreamConsumer struct {
	cfg         StreamConsumerConfig
	redisClient *redis.Client
	dispatcher  Dispatcher
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStreamConsumer creates the consumer
func NewStreamConsumer(cfg StreamConsumerConfig, redisClient *redis.Client, dispatcher Dispatcher, logger *zap.Logger) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &StreamConsumer{
		cfg:         cfg,
		redisClient: redisClient,
		dispatcher:  dispatcher,
		logger:      logger,
		metrics:     NewMetrics(),
	}
}

// Start consumes until ctx is done, backing off exponentially on read errors
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.cfg.Stream, c.cfg.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.cfg.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.cfg.ConsumerGroup),
		zap.String("consumer_name", c.cfg.ConsumerName),
		zap.String("stream", c.cfg.Stream),
	)

	go c.metrics.report(ctx, 60*time.Second, c.logger)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

// Metrics counters of this consumer
func (c *StreamConsumer) Metrics() *Metrics {
	return c.metrics
}

// consumeOnce reads one batch, dispatches it and acknowledges every message
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.cfg.Stream,
		c.cfg.ConsumerGroup, c.cfg.ConsumerName, c.cfg.BatchSize, c.cfg.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		c.metrics.incrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		// poison messages are acknowledged too
		ids = append(ids, msg.ID)
	}

	if err := rediscommon.Ack(ctx, c.redisClient, c.cfg.Stream, c.cfg.ConsumerGroup, ids...); err != nil {
		return fmt.Errorf("failed to ack messages: %w", err)
	}
	return nil
}

func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	start := time.Now()

	data, ok := msg.Values["data"].(string)
	if !ok {
		c.metrics.incrementFailed("parse")
		return fmt.Errorf("missing data field in message")
	}

	var ev models.SensorEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		c.metrics.incrementFailed("parse")
		return fmt.Errorf("failed to unmarshal sensor event: %w", err)
	}
	if ev.DeviceID == "" {
		c.metrics.incrementFailed("parse")
		return fmt.Errorf("sensor event without device_id")
	}

	if err := c.dispatcher.HandleSensorEvent(ctx, &ev); err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			c.metrics.incrementSkipped()
			return nil
		}
		c.metrics.incrementFailed("dispatch")
		return err
	}
	c.metrics.incrementSucceeded(time.Since(start))
	return nil
}
