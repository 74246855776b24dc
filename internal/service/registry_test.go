package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"xhale-breath/internal/analysis"
	"xhale-breath/internal/consumer"
	"xhale-breath/internal/models"
	"xhale-breath/internal/session"
	"xhale-breath/internal/warmup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	r := NewRegistry(session.Config{
		Warmup: warmup.Config{
			WarmupSeconds: 0,
			CaptureDelay:  time.Millisecond,
			Tick:          time.Millisecond,
		},
		CountdownTick: time.Hour,
	}, 15, zap.NewNop())
	t.Cleanup(r.Close)
	return r
}

func command(deviceID, action string) *models.Command {
	return &models.Command{DeviceID: deviceID, Action: action, UserID: "user-1"}
}

func reading(deviceID string, ts int64, raw, temp float64) *models.SensorEvent {
	return &models.SensorEvent{
		DeviceID:          deviceID,
		TimestampMs:       ts,
		CORaw:             &raw,
		COUpdateMs:        &ts,
		TemperatureC:      &temp,
		TemperatureUpdate: &ts,
	}
}

func connect(t *testing.T, r *Registry, deviceID string) *session.Manager {
	require.NoError(t, r.HandleCommand(context.Background(), command(deviceID, models.ActionConnect)))
	m, ok := r.Manager(deviceID)
	require.True(t, ok)
	require.Eventually(t, func() bool { return m.Status().Warmup.WarmupComplete }, time.Second, time.Millisecond)
	return m
}

func TestRegistry_UnknownDevice(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	err := r.HandleSensorEvent(ctx, reading("ghost", 1, 500, 25))
	assert.ErrorIs(t, err, consumer.ErrUnknownDevice)
	assert.ErrorIs(t, r.HandleCommand(ctx, command("ghost", models.ActionStart)), consumer.ErrUnknownDevice)
	assert.ErrorIs(t, r.HandleCommand(ctx, command("ghost", models.ActionStop)), consumer.ErrUnknownDevice)
	assert.NoError(t, r.HandleCommand(ctx, command("ghost", models.ActionDisconnect)))
	assert.Error(t, r.HandleCommand(ctx, command("ghost", "reboot")))
	assert.Empty(t, r.Statuses())
}

func TestRegistry_SamplingFlow(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	m := connect(t, r, "dev-1")

	require.NoError(t, r.HandleCommand(ctx, command("dev-1", models.ActionStart)))
	status := m.Status()
	assert.True(t, status.Sampling)
	assert.Equal(t, 15, status.RemainingSec)

	for i := 0; i < 10; i++ {
		raw, temp := 500.0, 25.0
		if i >= 8 {
			raw, temp = 520.0, 28.5
		}
		require.NoError(t, r.HandleSensorEvent(ctx, reading("dev-1", int64(1700000000000+i*1000), raw, temp)))
	}

	require.NoError(t, r.HandleCommand(ctx, command("dev-1", models.ActionStop)))
	assert.False(t, m.Status().Sampling)
	require.Eventually(t, func() bool { return m.Status().LastResult != nil }, time.Second, time.Millisecond)
	last := m.Status().LastResult
	assert.NotEmpty(t, last.SessionID)
	assert.InDelta(t, 17.2/3.6, last.EstimatedPpm, 1e-9)
	assert.Equal(t, "PPM: 4.78, dT: 3.50 (short)", last.Summary)
	assert.Equal(t, 0, m.Status().PointsCollected)

	assert.ErrorIs(t, r.HandleCommand(ctx, command("dev-1", models.ActionStop)), session.ErrNotSampling)
}

func TestRegistry_ExplicitDurationAndDisconnect(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	m := connect(t, r, "dev-2")
	connect(t, r, "dev-1")

	cmd := command("dev-2", models.ActionStart)
	cmd.DurationSec = 30
	require.NoError(t, r.HandleCommand(ctx, cmd))
	assert.Equal(t, 30, m.Status().RemainingSec)

	require.NoError(t, r.HandleCommand(ctx, command("dev-2", models.ActionDisconnect)))
	assert.False(t, m.Status().Sampling)
	assert.ErrorIs(t, r.HandleSensorEvent(ctx, reading("dev-2", 1, 500, 25)), consumer.ErrUnknownDevice)

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "dev-1", statuses[0].DeviceID)
	assert.True(t, statuses[0].Connected)
	assert.Equal(t, "dev-2", statuses[1].DeviceID)
	assert.False(t, statuses[1].Connected)
}

type fakeStatusPublisher struct {
	mu       sync.Mutex
	statuses []*consumer.ServiceStatus
}

func (f *fakeStatusPublisher) PublishStatus(ctx context.Context, status *consumer.ServiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func TestRegistry_StatusCommand(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	assert.Error(t, r.HandleCommand(ctx, command("dev-1", models.ActionStatus)), "not configured")

	publisher := &fakeStatusPublisher{}
	r.SetStatusReporting(publisher, func() bool { return true })
	connect(t, r, "dev-1")

	require.NoError(t, r.HandleCommand(ctx, command("dev-1", models.ActionStatus)))
	require.Len(t, publisher.statuses, 1)
	status := publisher.statuses[0]
	assert.True(t, status.MQTTConnected)
	assert.NotEmpty(t, status.GeneratedAt)
	require.Len(t, status.Devices, 1)
	assert.Equal(t, "dev-1", status.Devices[0].DeviceID)
	assert.True(t, status.Devices[0].Connected)
}

type fakeRefresher struct {
	mu          sync.Mutex
	invalidated []string
	ensured     []string
	err         error
}

func (f *fakeRefresher) EnsureFetched(ctx context.Context, serial string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, serial)
	return true
}

func (f *fakeRefresher) Coefficients(serial string) *analysis.GasFitCoefficients {
	return nil
}

func (f *fakeRefresher) Invalidate(ctx context.Context, serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invalidated = append(f.invalidated, serial)
	return nil
}

func (f *fakeRefresher) calls() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...), append([]string(nil), f.ensured...)
}

func TestRegistry_RecalibrateCommand(t *testing.T) {
	refresher := &fakeRefresher{}
	r := NewRegistry(session.Config{
		Calibration:   refresher,
		Warmup:        warmup.Config{WarmupSeconds: 0, CaptureDelay: time.Millisecond, Tick: time.Millisecond},
		CountdownTick: time.Hour,
	}, 15, zap.NewNop())
	t.Cleanup(r.Close)
	ctx := context.Background()

	assert.ErrorIs(t, r.HandleCommand(ctx, command("ghost", models.ActionRecalibrate)), consumer.ErrUnknownDevice)

	connect(t, r, "dev-1")
	assert.Error(t, r.HandleCommand(ctx, command("dev-1", models.ActionRecalibrate)), "no serial yet")

	serial := "D1A0-7CD4-0001"
	require.NoError(t, r.HandleSensorEvent(ctx, &models.SensorEvent{DeviceID: "dev-1", SerialNumber: &serial}))
	require.NoError(t, r.HandleCommand(ctx, command("dev-1", models.ActionRecalibrate)))

	invalidated, ensured := refresher.calls()
	assert.Equal(t, []string{serial}, invalidated)
	// once for the serial reading, once for the refresh
	assert.Equal(t, []string{serial, serial}, ensured)

	refresher.mu.Lock()
	refresher.err = errors.New("redis down")
	refresher.mu.Unlock()
	assert.Error(t, r.HandleCommand(ctx, command("dev-1", models.ActionRecalibrate)))
}

func TestRegistry_RecalibrateUnsupportedSource(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	connect(t, r, "dev-1")

	serial := "D1A0-7CD4-0001"
	require.NoError(t, r.HandleSensorEvent(ctx, &models.SensorEvent{DeviceID: "dev-1", SerialNumber: &serial}))
	assert.Error(t, r.HandleCommand(ctx, command("dev-1", models.ActionRecalibrate)))
}
