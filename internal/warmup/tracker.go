package warmup

import (
	"context"
	"sync"
	"time"

	"xhale-breath/internal/battery"

	"go.uber.org/zap"
)

// State baseline preparation progress of one connection
type State struct {
	PreparingBaseline    bool     `json:"preparing_baseline"`
	SecondsLeft          int      `json:"seconds_left"`
	WarmupComplete       bool     `json:"warmup_complete"`
	BaselineRaw          *float64 `json:"baseline_raw,omitempty"`
	BaselineTemperatureC *float64 `json:"baseline_temperature_c,omitempty"`
	RawBatteryADC        *float64 `json:"raw_battery_adc,omitempty"`
	BatteryVoltage       *float64 `json:"battery_voltage,omitempty"`
	BatteryCapacityMah   *float64 `json:"battery_capacity_mah,omitempty"`
	BatteryPercent       *int     `json:"battery_percent,omitempty"`
}

// Config timing of the warm-up lifecycle
type Config struct {
	WarmupSeconds int
	CaptureDelay  time.Duration
	// Tick length of one countdown second; tests shorten it
	Tick time.Duration
	// OnChange receives every state transition, called without locks held
	OnChange func(State)
}

// Tracker runs the warm-up countdown after a connect and captures the resting
// baseline from the latest live readings once the sensor has settled.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	liveRaw    *float64
	liveTemp   *float64
	cancel     context.CancelFunc
	generation uint64
	wg         sync.WaitGroup
}

// NewTracker creates an idle tracker
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins a fresh warm-up, abandoning any run in progress
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.generation++
	gen := t.generation
	// the first countdown state is visible before Start returns
	if t.cfg.WarmupSeconds > 0 {
		t.state = State{PreparingBaseline: true, SecondsLeft: t.cfg.WarmupSeconds}
	} else {
		t.state = State{WarmupComplete: true}
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go t.run(runCtx, gen)
}

func (t *Tracker) run(ctx context.Context, gen uint64) {
	defer t.wg.Done()

	for remaining := t.cfg.WarmupSeconds; remaining >= 1; remaining-- {
		left := remaining
		if !t.update(gen, func(s *State) {
			s.PreparingBaseline = true
			s.SecondsLeft = left
			s.WarmupComplete = false
		}) {
			return
		}
		if !sleep(ctx, t.cfg.Tick) {
			return
		}
	}

	if !t.update(gen, func(s *State) {
		s.PreparingBaseline = false
		s.SecondsLeft = 0
		s.WarmupComplete = true
	}) {
		return
	}

	if !sleep(ctx, t.cfg.CaptureDelay) {
		return
	}
	t.captureBaseline(gen)
}

func (t *Tracker) captureBaseline(gen uint64) {
	t.mu.Lock()
	raw, temp := t.liveRaw, t.liveTemp
	t.mu.Unlock()

	if raw == nil {
		t.logger.Warn("No CO reading available for warm-up baseline")
		return
	}

	voltage := battery.VoltageFromRaw(*raw)
	percent := battery.PercentFromVoltage(voltage)
	capacity := battery.CapacityMah(percent)
	baseline := *raw

	t.update(gen, func(s *State) {
		s.BaselineRaw = &baseline
		s.BaselineTemperatureC = temp
		s.RawBatteryADC = &baseline
		s.BatteryVoltage = &voltage
		s.BatteryCapacityMah = &capacity
		s.BatteryPercent = &percent
	})

	t.logger.Info("Warm-up baseline captured",
		zap.Float64("baseline_raw", baseline),
		zap.Float64("battery_voltage", voltage),
		zap.Int("battery_percent", percent),
	)
}

// update applies fn unless the run has been superseded; reports whether it applied
func (t *Tracker) update(gen uint64, fn func(*State)) bool {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return false
	}
	fn(&t.state)
	snapshot := t.state
	t.mu.Unlock()

	if t.cfg.OnChange != nil {
		t.cfg.OnChange(snapshot)
	}
	return true
}

// ObserveCO records the latest live CO reading
func (t *Tracker) ObserveCO(raw float64) {
	t.mu.Lock()
	t.liveRaw = &raw
	t.mu.Unlock()
}

// ObserveTemperature records the latest live temperature
func (t *Tracker) ObserveTemperature(temperatureC float64) {
	t.mu.Lock()
	t.liveTemp = &temperatureC
	t.mu.Unlock()
}

// Reset cancels any run and replaces the state with a fresh one
func (t *Tracker) Reset() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.generation++
	t.state = State{}
	t.liveRaw = nil
	t.liveTemp = nil
	snapshot := t.state
	t.mu.Unlock()

	if t.cfg.OnChange != nil {
		t.cfg.OnChange(snapshot)
	}
}

// State current snapshot
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// InProgress true while the countdown is running
func (t *Tracker) InProgress() bool {
	return t.State().PreparingBaseline
}

// Wait blocks until every started run has returned
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
