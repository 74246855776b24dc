package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"xhale-breath/internal/consumer"
	"xhale-breath/internal/models"
	"xhale-breath/internal/session"
	"xhale-breath/internal/warmup"

	"go.uber.org/zap"
)

// StatusPublisher stores the snapshot produced by a status command
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status *consumer.ServiceStatus) error
}

// calibrationRefresher calibration source that can drop a cached entry
type calibrationRefresher interface {
	session.CalibrationSource
	Invalidate(ctx context.Context, serial string) error
}

// Registry one session.Manager per device. Implements consumer.Dispatcher.
type Registry struct {
	cfg                session.Config
	defaultDurationSec int
	logger             *zap.Logger

	statusPublisher StatusPublisher
	connected       func() bool

	mu       sync.Mutex
	managers map[string]*session.Manager
}

// NewRegistry creates an empty registry; managers share cfg
func NewRegistry(cfg session.Config, defaultDurationSec int, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:                cfg,
		defaultDurationSec: defaultDurationSec,
		logger:             logger,
		managers:           make(map[string]*session.Manager),
	}
}

// SetStatusReporting enables the status command; connected reports the broker link
func (r *Registry) SetStatusReporting(publisher StatusPublisher, connected func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusPublisher = publisher
	r.connected = connected
}

// Manager of deviceID, if one was ever connected
func (r *Registry) Manager(deviceID string) (*session.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[deviceID]
	return m, ok
}

func (r *Registry) getOrCreate(deviceID string) *session.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[deviceID]; ok {
		return m
	}

	cfg := r.cfg
	logger := r.logger.With(zap.String("device_id", deviceID))
	cfg.Warmup.OnChange = func(s warmup.State) {
		logger.Debug("Warm-up state",
			zap.Int("seconds_left", s.SecondsLeft),
			zap.Bool("warmup_complete", s.WarmupComplete),
			zap.Bool("baseline_captured", s.BaselineRaw != nil),
		)
	}
	m := session.NewManager(deviceID, cfg, r.logger)
	r.managers[deviceID] = m
	return m
}

// HandleSensorEvent routes a live reading to the device's manager
func (r *Registry) HandleSensorEvent(ctx context.Context, ev *models.SensorEvent) error {
	m, ok := r.Manager(ev.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %s", consumer.ErrUnknownDevice, ev.DeviceID)
	}
	if err := m.HandleEvent(ctx, ev); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return fmt.Errorf("%w: %s not connected", consumer.ErrUnknownDevice, ev.DeviceID)
		}
		return err
	}
	return nil
}

// HandleCommand applies connect, disconnect, start, stop, status and recalibrate.
// stop only ends sampling here; the analysis runs on the manager's goroutine.
func (r *Registry) HandleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Action {
	case models.ActionConnect:
		r.getOrCreate(cmd.DeviceID).Connect(ctx, cmd.UserID)
		return nil

	case models.ActionDisconnect:
		if m, ok := r.Manager(cmd.DeviceID); ok {
			m.Disconnect()
		}
		return nil

	case models.ActionStart:
		m, ok := r.Manager(cmd.DeviceID)
		if !ok {
			return fmt.Errorf("%w: %s", consumer.ErrUnknownDevice, cmd.DeviceID)
		}
		duration := cmd.DurationSec
		if duration <= 0 {
			duration = r.defaultDurationSec
		}
		_, err := m.StartSampling(ctx, duration)
		return err

	case models.ActionStop:
		m, ok := r.Manager(cmd.DeviceID)
		if !ok {
			return fmt.Errorf("%w: %s", consumer.ErrUnknownDevice, cmd.DeviceID)
		}
		return m.RequestStop(ctx)

	case models.ActionStatus:
		return r.publishStatus(ctx)

	case models.ActionRecalibrate:
		m, ok := r.Manager(cmd.DeviceID)
		if !ok {
			return fmt.Errorf("%w: %s", consumer.ErrUnknownDevice, cmd.DeviceID)
		}
		return r.recalibrate(ctx, m)

	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
}

func (r *Registry) publishStatus(ctx context.Context) error {
	r.mu.Lock()
	publisher, connected := r.statusPublisher, r.connected
	r.mu.Unlock()
	if publisher == nil {
		return errors.New("status reporting is not configured")
	}

	status := &consumer.ServiceStatus{
		GeneratedAt: session.FormatTimestamp(time.Now().UnixMilli()),
		Devices:     r.Statuses(),
	}
	if connected != nil {
		status.MQTTConnected = connected()
	}
	return publisher.PublishStatus(ctx, status)
}

func (r *Registry) recalibrate(ctx context.Context, m *session.Manager) error {
	serial := m.Status().SerialNumber
	if serial == "" {
		return fmt.Errorf("device %s has not reported a serial number", m.DeviceID())
	}
	refresher, ok := r.cfg.Calibration.(calibrationRefresher)
	if !ok {
		return errors.New("calibration source does not support refresh")
	}
	if err := refresher.Invalidate(ctx, serial); err != nil {
		return err
	}
	refresher.EnsureFetched(ctx, serial)
	r.logger.Info("Device calibration refresh requested",
		zap.String("device_id", m.DeviceID()),
		zap.String("serial_number", serial),
	)
	return nil
}

// Statuses status of every known device, ordered by device id
func (r *Registry) Statuses() []session.Status {
	r.mu.Lock()
	managers := make([]*session.Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	statuses := make([]session.Status, 0, len(managers))
	for _, m := range managers {
		statuses = append(statuses, m.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].DeviceID < statuses[j].DeviceID })
	return statuses
}

// Close aborts every session and waits for background work
func (r *Registry) Close() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*session.Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}
