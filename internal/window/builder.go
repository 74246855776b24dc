package window

import (
	"sort"

	"xhale-breath/internal/analysis"
)

// timedSample one reading of a single channel
type timedSample struct {
	timestampMs int64
	value       float64
}

// SamplePoint one entry of the raw series recorded while sampling
type SamplePoint struct {
	TimestampMs    int64    `json:"timestamp_ms"`
	CORaw          *float64 `json:"co_raw,omitempty"`
	TemperatureC   *float64 `json:"temperature_c,omitempty"`
	VoltageV       *float64 `json:"voltage_v,omitempty"`
	BatteryPercent *int     `json:"battery_percent,omitempty"`
}

// Builder collects asynchronous CO and temperature updates of one sampling
// session and assembles them into an analysis window.
// Not safe for concurrent use; the owning session serializes access.
type Builder struct {
	co           []timedSample
	temperatures []timedSample
	lastCOMs     *int64
	lastTempMs   *int64
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// AddCO records a CO reading. Returns false for a repeated update timestamp.
func (b *Builder) AddCO(timestampMs int64, raw float64) bool {
	if b.lastCOMs != nil && *b.lastCOMs == timestampMs {
		return false
	}
	b.co = append(b.co, timedSample{timestampMs: timestampMs, value: raw})
	b.lastCOMs = &timestampMs
	return true
}

// AddTemperature records a temperature reading. Returns false for a repeated update timestamp.
func (b *Builder) AddTemperature(timestampMs int64, temperatureC float64) bool {
	if b.lastTempMs != nil && *b.lastTempMs == timestampMs {
		return false
	}
	b.temperatures = append(b.temperatures, timedSample{timestampMs: timestampMs, value: temperatureC})
	b.lastTempMs = &timestampMs
	return true
}

// COCount number of CO readings collected
func (b *Builder) COCount() int {
	return len(b.co)
}

// TemperatureCount number of temperature readings collected
func (b *Builder) TemperatureCount() int {
	return len(b.temperatures)
}

// NearestTemperature temperature closest in time to timestampMs; the earliest
// recorded reading wins a tie.
func (b *Builder) NearestTemperature(timestampMs int64) (float64, bool) {
	return nearestValue(b.temperatures, timestampMs)
}

// Build aligns every CO reading with its nearest temperature. CO readings
// without any temperature are dropped. The result is sorted by timestamp with
// duplicate timestamps removed (first kept). voltage is applied to every point.
func (b *Builder) Build(voltage *float64) []analysis.WindowPoint {
	points := make([]analysis.WindowPoint, 0, len(b.co))
	for _, s := range b.co {
		temp, ok := nearestValue(b.temperatures, s.timestampMs)
		if !ok {
			continue
		}
		p := analysis.WindowPoint{
			TimestampMs:  s.timestampMs,
			RawCO:        s.value,
			TemperatureC: temp,
		}
		if voltage != nil {
			v := *voltage
			p.VoltageV = &v
		}
		points = append(points, p)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})

	unique := points[:0]
	for i, p := range points {
		if i > 0 && p.TimestampMs == unique[len(unique)-1].TimestampMs {
			continue
		}
		unique = append(unique, p)
	}
	return unique
}

// Reset discards everything collected so far
func (b *Builder) Reset() {
	b.co = nil
	b.temperatures = nil
	b.lastCOMs = nil
	b.lastTempMs = nil
}

func nearestValue(samples []timedSample, targetMs int64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	best := samples[0]
	bestDelta := absInt64(best.timestampMs - targetMs)
	for _, s := range samples[1:] {
		if d := absInt64(s.timestampMs - targetMs); d < bestDelta {
			best, bestDelta = s, d
		}
	}
	return best.value, true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
