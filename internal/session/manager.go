package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"xhale-breath/internal/analysis"
	"xhale-breath/internal/battery"
	"xhale-breath/internal/models"
	"xhale-breath/internal/warmup"
	"xhale-breath/internal/window"

	"go.uber.org/zap"
)

// minSamples CO readings and aligned points required before analysing
const minSamples = 5

// CalibrationSource per-device cloud calibration lookups
type CalibrationSource interface {
	EnsureFetched(ctx context.Context, serial string) bool
	Coefficients(serial string) *analysis.GasFitCoefficients
}

// SessionStore persists finished sessions
type SessionStore interface {
	SaveSession(ctx context.Context, record *Record) error
}

// ResultPublisher fans a finished analysis out to other consumers
type ResultPublisher interface {
	PublishResult(ctx context.Context, outcome *Outcome) error
}

// Outcome everything produced by one analysed session
type Outcome struct {
	SessionID        string
	DeviceID         string
	SerialNumber     string
	Analysis         *analysis.BreathAnalysis
	Summary          string
	SensorSuspicious bool
	// Record nil when no serial number was known
	Record *Record
}

// Config collaborators and timing of a Manager
type Config struct {
	Analyzer    *analysis.Analyzer
	Calibration CalibrationSource
	Store       SessionStore
	Publisher   ResultPublisher
	Warmup      warmup.Config
	// CountdownTick length of one sampling second; tests shorten it
	CountdownTick time.Duration
}

// Status snapshot of a manager
type Status struct {
	DeviceID        string       `json:"device_id"`
	Connected       bool         `json:"connected"`
	Sampling        bool         `json:"sampling"`
	RemainingSec    int          `json:"remaining_sec"`
	SessionID       string       `json:"session_id,omitempty"`
	SerialNumber    string       `json:"serial_number,omitempty"`
	BatteryPercent  *int         `json:"battery_percent,omitempty"`
	PointsCollected int          `json:"points_collected"`
	LastResult      *LastResult  `json:"last_result,omitempty"`
	Warmup          warmup.State `json:"warmup"`
}

// LastResult headline of the most recent analysed session
type LastResult struct {
	SessionID        string  `json:"session_id"`
	EstimatedPpm     float64 `json:"estimated_ppm"`
	Summary          string  `json:"summary"`
	SensorSuspicious bool    `json:"sensor_suspicious"`
}

// Manager coordinates warm-up, sampling and analysis for one device
type Manager struct {
	deviceID string
	cfg      Config
	warmup   *warmup.Tracker
	logger   *zap.Logger

	mu             sync.Mutex
	connected      bool
	userID         string
	serial         string
	batteryPercent *int
	liveTemp       *float64

	sampling       bool
	generation     uint64
	sessionID      string
	durationSec    int
	remainingSec   int
	serialSnapshot string
	cloudSnapshot  *analysis.GasFitCoefficients
	builder        *window.Builder
	points         []window.SamplePoint
	cancel         context.CancelFunc
	lastOutcome    *Outcome

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager for deviceID
func NewManager(deviceID string, cfg Config, logger *zap.Logger) *Manager {
	if cfg.Analyzer == nil {
		cfg.Analyzer = analysis.NewDefaultAnalyzer()
	}
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = time.Second
	}
	logger = logger.With(zap.String("device_id", deviceID))
	return &Manager{
		deviceID: deviceID,
		cfg:      cfg,
		warmup:   warmup.NewTracker(cfg.Warmup, logger),
		logger:   logger,
		builder:  window.NewBuilder(),
	}
}

// DeviceID connection identifier
func (m *Manager) DeviceID() string {
	return m.deviceID
}

// Connect marks the device connected and starts a fresh warm-up
func (m *Manager) Connect(ctx context.Context, userID string) {
	m.mu.Lock()
	m.abortLocked()
	m.connected = true
	m.userID = userID
	m.serial = ""
	m.batteryPercent = nil
	m.liveTemp = nil
	m.mu.Unlock()

	m.warmup.Reset()
	m.warmup.Start(ctx)
	m.logger.Info("Device connected, warm-up started")
}

// Disconnect aborts any sampling without analysis and resets the warm-up
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasSampling := m.sampling
	m.abortLocked()
	m.connected = false
	m.serial = ""
	m.batteryPercent = nil
	m.liveTemp = nil
	m.mu.Unlock()

	m.warmup.Reset()
	if wasSampling {
		m.logger.Warn("Device disconnected while sampling, session discarded")
	} else {
		m.logger.Info("Device disconnected")
	}
}

// abortLocked stops sampling without analysis; m.mu must be held
func (m *Manager) abortLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.generation++
	m.sampling = false
	m.remainingSec = 0
	m.cloudSnapshot = nil
	m.serialSnapshot = ""
}

// HandleEvent applies one live sensor reading
func (m *Manager) HandleEvent(ctx context.Context, ev *models.SensorEvent) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}

	var serial string
	if ev.SerialNumber != nil && strings.TrimSpace(*ev.SerialNumber) != "" {
		m.serial = *ev.SerialNumber
		serial = m.serial
	}
	if ev.BatteryPercent != nil {
		p := *ev.BatteryPercent
		m.batteryPercent = &p
	}

	temp, hasTemp := ev.Temperature()
	if hasTemp {
		m.liveTemp = &temp
		if m.sampling {
			m.builder.AddTemperature(ev.TemperatureTimestamp(), temp)
		}
	}

	if ev.CORaw != nil && m.sampling {
		ts := ev.COTimestamp()
		if m.builder.AddCO(ts, *ev.CORaw) {
			m.points = append(m.points, m.samplePointLocked(ts, *ev.CORaw))
		}
	}
	m.mu.Unlock()

	if hasTemp {
		m.warmup.ObserveTemperature(temp)
	}
	if ev.CORaw != nil {
		m.warmup.ObserveCO(*ev.CORaw)
	}
	if serial != "" && m.cfg.Calibration != nil {
		m.cfg.Calibration.EnsureFetched(ctx, serial)
	}
	return nil
}

func (m *Manager) samplePointLocked(ts int64, raw float64) window.SamplePoint {
	p := window.SamplePoint{
		TimestampMs:    ts,
		CORaw:          &raw,
		VoltageV:       m.fixedVoltage(),
		BatteryPercent: m.batteryPercent,
	}
	if temp, ok := m.builder.NearestTemperature(ts); ok {
		p.TemperatureC = &temp
	} else if m.liveTemp != nil {
		t := *m.liveTemp
		p.TemperatureC = &t
	}
	return p
}

// fixedVoltage warm-up battery voltage, else derived from the warm-up baseline
func (m *Manager) fixedVoltage() *float64 {
	state := m.warmup.State()
	if state.BatteryVoltage != nil {
		v := *state.BatteryVoltage
		return &v
	}
	if state.BaselineRaw != nil {
		v := battery.VoltageFromRaw(*state.BaselineRaw)
		return &v
	}
	return nil
}

// StartSampling begins a fixed-duration session and returns its id. The
// session stops and is analysed automatically once durationSec elapses.
func (m *Manager) StartSampling(ctx context.Context, durationSec int) (string, error) {
	if durationSec <= 0 {
		return "", ErrInvalidDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return "", ErrNotConnected
	}
	if m.warmup.InProgress() {
		return "", fmt.Errorf("%w: %ds left", ErrWarmupInProgress, m.warmup.State().SecondsLeft)
	}
	if m.sampling {
		return "", ErrAlreadySampling
	}

	m.builder.Reset()
	m.points = nil
	m.sessionID = NewSessionID()
	m.durationSec = durationSec
	m.remainingSec = durationSec
	m.serialSnapshot = m.serial
	m.cloudSnapshot = nil
	if m.cfg.Calibration != nil && m.serial != "" {
		m.cloudSnapshot = m.cfg.Calibration.Coefficients(m.serial)
	}
	m.sampling = true
	m.generation++

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.wg.Add(1)
	go m.countdown(runCtx, m.generation)

	m.logger.Info("Sampling started",
		zap.String("session_id", m.sessionID),
		zap.Int("duration_sec", durationSec),
		zap.Bool("cloud_calibration", m.cloudSnapshot != nil),
	)
	return m.sessionID, nil
}

func (m *Manager) countdown(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CountdownTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if gen != m.generation || !m.sampling {
			m.mu.Unlock()
			return
		}
		m.remainingSec--
		done := m.remainingSec <= 0
		m.mu.Unlock()

		if done {
			break
		}
	}

	// stop cancels ctx; persistence must outlive it
	if _, err := m.stop(context.WithoutCancel(ctx), gen); err != nil && !errors.Is(err, ErrNotSampling) {
		m.logger.Warn("Automatic stop produced no result", zap.Error(err))
	}
}

// snapshot data captured when a session stops
type snapshot struct {
	sessionID   string
	serial      string
	userID      string
	durationSec int
	cloud       *analysis.GasFitCoefficients
	builder     *window.Builder
	points      []window.SamplePoint
	battery     *int
}

// stop ends sampling; gen 0 stops whatever session is running
func (m *Manager) stop(ctx context.Context, gen uint64) (*Outcome, error) {
	m.mu.Lock()
	if !m.sampling || (gen != 0 && gen != m.generation) {
		m.mu.Unlock()
		return nil, ErrNotSampling
	}
	snap := m.detachLocked()
	m.mu.Unlock()

	return m.finish(ctx, snap)
}

// RequestStop ends the current session early and analyses it in the
// background. Only the not-sampling check is synchronous; the result is
// reported by Status and the configured publisher.
func (m *Manager) RequestStop(ctx context.Context) error {
	m.mu.Lock()
	if !m.sampling {
		m.mu.Unlock()
		return ErrNotSampling
	}
	snap := m.detachLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		// the caller's ctx ends with its message; persistence must outlive it
		_, _ = m.finish(context.WithoutCancel(ctx), snap)
	}()
	return nil
}

// detachLocked ends sampling and hands the collected data over; m.mu must be held
func (m *Manager) detachLocked() snapshot {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.sampling = false
	m.remainingSec = 0

	serial := m.serialSnapshot
	if strings.TrimSpace(serial) == "" {
		serial = m.serial
	}
	snap := snapshot{
		sessionID:   m.sessionID,
		serial:      serial,
		userID:      m.userID,
		durationSec: m.durationSec,
		cloud:       m.cloudSnapshot,
		builder:     m.builder,
		points:      m.points,
		battery:     m.batteryPercent,
	}
	m.builder = window.NewBuilder()
	m.points = nil
	m.serialSnapshot = ""
	m.cloudSnapshot = nil
	return snap
}

func (m *Manager) finish(ctx context.Context, snap snapshot) (*Outcome, error) {
	outcome, err := m.analyze(ctx, snap)
	if err != nil {
		m.logger.Warn("Session not analysed",
			zap.String("session_id", snap.sessionID),
			zap.Error(err),
		)
		return nil, err
	}

	m.mu.Lock()
	m.lastOutcome = outcome
	m.mu.Unlock()
	return outcome, nil
}

func (m *Manager) analyze(ctx context.Context, snap snapshot) (*Outcome, error) {
	if n := snap.builder.COCount(); n < minSamples {
		return nil, fmt.Errorf("%w: %d CO samples captured", ErrInsufficientData, n)
	}
	if snap.builder.TemperatureCount() == 0 {
		return nil, fmt.Errorf("%w: no temperature samples captured", ErrInsufficientData)
	}

	state := m.warmup.State()
	voltage := m.fixedVoltage()
	points := snap.builder.Build(voltage)
	if len(points) < minSamples {
		return nil, fmt.Errorf("%w: %d aligned temperature/CO points", ErrInsufficientData, len(points))
	}

	duration := snap.durationSec
	result, err := m.cfg.Analyzer.Analyze(points, analysis.Options{
		SerialNumber:      snap.serial,
		WarmupBaselineRaw: state.BaselineRaw,
		CloudCoefficients: snap.cloud,
		SampleDurationSec: &duration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze breath: %w", err)
	}

	outcome := &Outcome{
		SessionID:        snap.sessionID,
		DeviceID:         m.deviceID,
		SerialNumber:     snap.serial,
		Analysis:         result,
		Summary:          Summary(result),
		SensorSuspicious: SensorSuspicious(result),
	}

	m.logger.Info("Breath analysed",
		zap.String("session_id", snap.sessionID),
		zap.String("calibration_path", string(result.Path)),
		zap.String("calibration_source", result.Source),
		zap.Float64("estimated_ppm", result.EstimatedPpm),
		zap.Float64("temperature_rise_c", result.TemperatureRiseC),
		zap.Any("flags", result.Flags.AsMap()),
	)
	if outcome.SensorSuspicious {
		m.logger.Warn("Baseline and peak CO are both very low, sensor may be damaged",
			zap.String("session_id", snap.sessionID),
			zap.Float64("baseline_co", result.BaselineCO),
			zap.Float64("peak_co", result.PeakCO),
		)
	}

	if strings.TrimSpace(snap.serial) != "" {
		outcome.Record = NewRecord(snap.sessionID, snap.serial, snap.userID, result, points, snap.points, snap.battery)
		if m.cfg.Store != nil {
			if err := m.cfg.Store.SaveSession(ctx, outcome.Record); err != nil {
				m.logger.Error("Failed to save session",
					zap.String("session_id", snap.sessionID),
					zap.Error(err),
				)
			}
		}
	}

	if m.cfg.Publisher != nil {
		if err := m.cfg.Publisher.PublishResult(ctx, outcome); err != nil {
			m.logger.Error("Failed to publish analysis result",
				zap.String("session_id", snap.sessionID),
				zap.Error(err),
			)
		}
	}
	return outcome, nil
}

// Status current snapshot
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := Status{
		DeviceID:        m.deviceID,
		Connected:       m.connected,
		Sampling:        m.sampling,
		RemainingSec:    m.remainingSec,
		SessionID:       m.sessionID,
		SerialNumber:    m.serial,
		BatteryPercent:  m.batteryPercent,
		PointsCollected: len(m.points),
		Warmup:          m.warmup.State(),
	}
	if o := m.lastOutcome; o != nil {
		status.LastResult = &LastResult{
			SessionID:        o.SessionID,
			EstimatedPpm:     o.Analysis.EstimatedPpm,
			Summary:          o.Summary,
			SensorSuspicious: o.SensorSuspicious,
		}
	}
	return status
}

// Close aborts sampling, stops the warm-up and waits for background work
func (m *Manager) Close() {
	m.mu.Lock()
	m.abortLocked()
	m.connected = false
	m.mu.Unlock()

	m.warmup.Reset()
	m.warmup.Wait()
	m.wg.Wait()
}
