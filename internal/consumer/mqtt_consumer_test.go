package consumer

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"xhale-breath/common/config"
	mqttcommon "xhale-breath/common/mqtt"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	if f.handlers == nil {
		f.handlers = make(map[string]mqttcommon.MessageHandler)
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func TestDeviceIDFromTopic(t *testing.T) {
	id, err := deviceIDFromTopic("xhale/dev-1/sensor")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", id)

	_, err = deviceIDFromTopic("xhale/sensor")
	assert.Error(t, err)
	_, err = deviceIDFromTopic("xhale//sensor")
	assert.Error(t, err)
}

func TestMQTTConsumer_HandleSensor(t *testing.T) {
	sub := &fakeSubscriber{}
	dispatcher := &fakeDispatcher{}
	c := NewMQTTConsumer("xhale/+/sensor", "xhale/+/command", 1, sub, dispatcher, zap.NewNop())
	require.NoError(t, c.Subscribe(context.Background()))

	handler := sub.handlers["xhale/+/sensor"]
	require.NotNil(t, handler)

	require.NoError(t, handler("xhale/dev-1/sensor", []byte(`{"co_raw": 512.5, "temperature_centi": 2450}`)))
	require.NoError(t, handler("xhale/dev-1/sensor", []byte(`{"device_id": "dev-2", "timestamp_ms": 1700000000000}`)))
	assert.Error(t, handler("xhale/dev-1/sensor", []byte(`{not json`)))

	events := dispatcher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "dev-1", events[0].DeviceID)
	assert.Equal(t, 512.5, *events[0].CORaw)
	assert.NotZero(t, events[0].TimestampMs)
	temp, ok := events[0].Temperature()
	require.True(t, ok)
	assert.InDelta(t, 24.5, temp, 1e-9)
	assert.Equal(t, "dev-2", events[1].DeviceID)
	assert.Equal(t, int64(1700000000000), events[1].TimestampMs)

	snapshot := c.Metrics().GetSnapshot()
	assert.Equal(t, int64(3), snapshot.MessagesProcessed)
	assert.Equal(t, int64(2), snapshot.MessagesSucceeded)
	assert.Equal(t, int64(1), snapshot.ErrorsParse)
}

func TestMQTTConsumer_HandleCommand(t *testing.T) {
	sub := &fakeSubscriber{}
	dispatcher := &fakeDispatcher{}
	c := NewMQTTConsumer("xhale/+/sensor", "xhale/+/command", 1, sub, dispatcher, zap.NewNop())
	require.NoError(t, c.Subscribe(context.Background()))

	handler := sub.handlers["xhale/+/command"]
	require.NoError(t, handler("xhale/dev-1/command", []byte(`{"action": "start", "duration_sec": 10}`)))

	commands := dispatcher.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "dev-1", commands[0].DeviceID)
	assert.Equal(t, "start", commands[0].Action)
	assert.Equal(t, 10, commands[0].DurationSec)

	dispatcher.err = errDispatch
	assert.ErrorIs(t, handler("xhale/dev-1/command", []byte(`{"action": "stop"}`)), errDispatch)

	dispatcher.err = ErrUnknownDevice
	assert.NoError(t, handler("xhale/dev-9/command", []byte(`{"action": "stop"}`)))
	assert.Equal(t, int64(1), c.Metrics().GetSnapshot().MessagesSkipped)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{"xhale/+/sensor", "xhale/+/command"}, sub.unsubscribed)
}

func startBroker(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return addr
}

func newTestClient(t *testing.T, addr, clientID string) *mqttcommon.Client {
	t.Helper()
	client, err := mqttcommon.NewClient(&config.MQTTConfig{
		Broker:         fmt.Sprintf("tcp://%s", addr),
		ClientID:       clientID,
		ConnectTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)
	return client
}

func TestMQTTConsumer_Broker(t *testing.T) {
	addr := startBroker(t)
	dispatcher := &fakeDispatcher{}

	c := NewMQTTConsumer("xhale/+/sensor", "xhale/+/command", 1,
		newTestClient(t, addr, "breath-consumer"), dispatcher, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Subscribe(ctx))

	publisher := newTestClient(t, addr, "gateway")
	require.NoError(t, publisher.Publish("xhale/dev-7/command", 1, false, []byte(`{"action":"connect","user_id":"u1"}`)))
	require.NoError(t, publisher.Publish("xhale/dev-7/sensor", 1, false, []byte(`{"co_raw":501,"serial_number":"D1A07CD4-0001"}`)))

	assert.Eventually(t, func() bool {
		return len(dispatcher.Commands()) == 1 && len(dispatcher.Events()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cmd := dispatcher.Commands()[0]
	assert.Equal(t, "dev-7", cmd.DeviceID)
	assert.Equal(t, "u1", cmd.UserID)
	ev := dispatcher.Events()[0]
	assert.Equal(t, "dev-7", ev.DeviceID)
	assert.Equal(t, "D1A07CD4-0001", *ev.SerialNumber)
}

func TestMQTTClient_ConnectionState(t *testing.T) {
	addr := startBroker(t)
	client := newTestClient(t, addr, "status-check")

	assert.True(t, client.IsConnected())
	client.Disconnect()
	assert.False(t, client.IsConnected())
}
