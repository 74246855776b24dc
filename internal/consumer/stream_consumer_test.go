package consumer

import (
	"context"
	"testing"
	"time"

	rediscommon "xhale-breath/common/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testStreamConfig() StreamConsumerConfig {
	return StreamConsumerConfig{
		Stream:        "xhale:sensor:stream",
		ConsumerGroup: "breath-analysis-group",
		ConsumerName:  "test-1",
		BatchSize:     10,
		Block:         10 * time.Millisecond,
	}
}

func TestStreamConsumer_ConsumeOnce(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	cfg := testStreamConfig()
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, cfg.Stream, cfg.ConsumerGroup))

	dispatcher := &fakeDispatcher{}
	c := NewStreamConsumer(cfg, client, dispatcher, zap.NewNop())

	_, err := rediscommon.PublishJSONToStream(ctx, client, cfg.Stream, map[string]any{"device_id": "dev-1", "co_raw": 500.0})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, cfg.Stream, map[string]interface{}{"data": "{broken"})
	require.NoError(t, err)
	_, err = rediscommon.PublishJSONToStream(ctx, client, cfg.Stream, map[string]any{"co_raw": 500.0})
	require.NoError(t, err)

	require.NoError(t, c.consumeOnce(ctx))

	events := dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "dev-1", events[0].DeviceID)
	assert.Equal(t, 500.0, *events[0].CORaw)

	snapshot := c.Metrics().GetSnapshot()
	assert.Equal(t, int64(3), snapshot.MessagesProcessed)
	assert.Equal(t, int64(1), snapshot.MessagesSucceeded)
	assert.Equal(t, int64(2), snapshot.ErrorsParse)

	pending, err := client.XPending(ctx, cfg.Stream, cfg.ConsumerGroup).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	require.NoError(t, c.consumeOnce(ctx), "an empty read is not an error")
}

func TestStreamConsumer_UnknownDeviceSkipped(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	cfg := testStreamConfig()
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, cfg.Stream, cfg.ConsumerGroup))

	dispatcher := &fakeDispatcher{err: ErrUnknownDevice}
	c := NewStreamConsumer(cfg, client, dispatcher, zap.NewNop())

	_, err := rediscommon.PublishJSONToStream(ctx, client, cfg.Stream, map[string]any{"device_id": "ghost"})
	require.NoError(t, err)
	require.NoError(t, c.consumeOnce(ctx))

	snapshot := c.Metrics().GetSnapshot()
	assert.Equal(t, int64(1), snapshot.MessagesSkipped)
	assert.Equal(t, int64(0), snapshot.MessagesFailed)
}

func TestStreamConsumer_StartStopsOnCancel(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testStreamConfig()

	dispatcher := &fakeDispatcher{}
	c := NewStreamConsumer(cfg, client, dispatcher, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := rediscommon.PublishJSONToStream(context.Background(), client, cfg.Stream, map[string]any{"device_id": "dev-2"})
		return err == nil && len(dispatcher.Events()) > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
