package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "xhale-breath/common/redis"
	"xhale-breath/internal/models"
	"xhale-breath/internal/session"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ResultCache keeps the latest analysis per device and fans results out on a stream.
// Implements session.ResultPublisher.
type ResultCache struct {
	kv           rediscommon.KVStore
	redisClient  *redis.Client
	keyPrefix    string
	ttl          time.Duration
	outputStream string
	logger       *zap.Logger
}

// ServiceStatus snapshot written on a status command
type ServiceStatus struct {
	GeneratedAt   string           `json:"generated_at"`
	MQTTConnected bool             `json:"mqtt_connected"`
	Devices       []session.Status `json:"devices"`
}

// NewResultCache creates the cache; outputStream "" disables stream publishing
func NewResultCache(redisClient *redis.Client, keyPrefix string, ttl time.Duration, outputStream string, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		kv:           rediscommon.NewRedisKVStore(redisClient),
		redisClient:  redisClient,
		keyPrefix:    keyPrefix,
		ttl:          ttl,
		outputStream: outputStream,
		logger:       logger,
	}
}

func (c *ResultCache) key(deviceID string) string {
	return fmt.Sprintf("%s%s:latest", c.keyPrefix, deviceID)
}

// PublishResult caches the outcome under the device key and appends it to the output stream
func (c *ResultCache) PublishResult(ctx context.Context, outcome *session.Outcome) error {
	analysisJSON, err := json.Marshal(outcome.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	msg := models.AnalysisMessage{
		SessionID:        outcome.SessionID,
		DeviceID:         outcome.DeviceID,
		SerialNumber:     outcome.SerialNumber,
		Timestamp:        time.Now().Unix(),
		Summary:          outcome.Summary,
		SensorSuspicious: outcome.SensorSuspicious,
		Analysis:         analysisJSON,
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis message: %w", err)
	}

	key := c.key(outcome.DeviceID)
	if err := c.kv.Set(ctx, key, string(payload), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	if c.outputStream != "" {
		streamID, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, c.outputStream, &msg)
		if err != nil {
			return fmt.Errorf("failed to publish to stream: %w", err)
		}
		c.logger.Debug("Published analysis result",
			zap.String("device_id", outcome.DeviceID),
			zap.String("session_id", outcome.SessionID),
			zap.String("stream_id", streamID),
		)
	}
	return nil
}

func (c *ResultCache) statusKey() string {
	return c.keyPrefix + "status"
}

// PublishStatus caches the service status snapshot for ttl
func (c *ResultCache) PublishStatus(ctx context.Context, status *ServiceStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal service status: %w", err)
	}
	if err := c.kv.Set(ctx, c.statusKey(), string(payload), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	c.logger.Debug("Published service status", zap.Int("devices", len(status.Devices)))
	return nil
}
