package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqttcommon "xhale-breath/common/mqtt"
	"xhale-breath/internal/models"

	"go.uber.org/zap"
)

// ErrUnknownDevice returned by a Dispatcher for events of devices it does not track
var ErrUnknownDevice = errors.New("unknown device")

// Subscriber the part of the MQTT client the consumer needs
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer decodes device sensor and command topics and dispatches them
type MQTTConsumer struct {
	sensorTopic  string
	commandTopic string
	qos          byte
	client       Subscriber
	dispatcher   Dispatcher
	logger       *zap.Logger
	metrics      *Metrics

	ctx context.Context
}

// NewMQTTConsumer creates the consumer; call Start to subscribe
func NewMQTTConsumer(
	sensorTopic, commandTopic string,
	qos byte,
	client Subscriber,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		sensorTopic:  sensorTopic,
		commandTopic: commandTopic,
		qos:          qos,
		client:       client,
		dispatcher:   dispatcher,
		logger:       logger,
		metrics:      NewMetrics(),
		ctx:          context.Background(),
	}
}

// Start subscribes both topics and blocks until ctx is done
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.Subscribe(ctx); err != nil {
		return err
	}

	go c.metrics.report(ctx, 60*time.Second, c.logger)

	<-ctx.Done()
	return nil
}

// Subscribe subscribes both topics without blocking
func (c *MQTTConsumer) Subscribe(ctx context.Context) error {
	c.ctx = ctx
	if err := c.client.Subscribe(c.sensorTopic, c.qos, c.handleSensor); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}
	if err := c.client.Subscribe(c.commandTopic, c.qos, c.handleCommand); err != nil {
		return fmt.Errorf("failed to subscribe to command topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("sensor_topic", c.sensorTopic),
		zap.String("command_topic", c.commandTopic),
	)
	return nil
}

// Stop unsubscribes both topics
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.client.Unsubscribe(c.sensorTopic, c.commandTopic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// Metrics counters of this consumer
func (c *MQTTConsumer) Metrics() *Metrics {
	return c.metrics
}

func (c *MQTTConsumer) handleSensor(topic string, payload []byte) error {
	start := time.Now()
	c.metrics.incrementProcessed()

	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		c.metrics.incrementFailed("parse")
		return err
	}

	var ev models.SensorEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.metrics.incrementFailed("parse")
		return fmt.Errorf("failed to unmarshal sensor event: %w", err)
	}
	if ev.DeviceID == "" {
		ev.DeviceID = deviceID
	}
	if ev.TimestampMs == 0 {
		ev.TimestampMs = time.Now().UnixMilli()
	}

	return c.dispatch(start, func() error {
		return c.dispatcher.HandleSensorEvent(c.ctx, &ev)
	})
}

func (c *MQTTConsumer) handleCommand(topic string, payload []byte) error {
	start := time.Now()
	c.metrics.incrementProcessed()

	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		c.metrics.incrementFailed("parse")
		return err
	}

	var cmd models.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.metrics.incrementFailed("parse")
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}

	c.logger.Debug("Received command",
		zap.String("device_id", cmd.DeviceID),
		zap.String("action", cmd.Action),
	)
	return c.dispatch(start, func() error {
		return c.dispatcher.HandleCommand(c.ctx, &cmd)
	})
}

func (c *MQTTConsumer) dispatch(start time.Time, fn func() error) error {
	if err := fn(); err != nil {
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
