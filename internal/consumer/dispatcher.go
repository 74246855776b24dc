package consumer

import (
	"context"
	"fmt"
	"strings"

	"xhale-breath/internal/models"
)

// Dispatcher receives decoded device traffic
type Dispatcher interface {
	HandleSensorEvent(ctx context.Context, ev *models.SensorEvent) error
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

// deviceIDFromTopic topic format: xhale/{device_id}/{kind}
func deviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
