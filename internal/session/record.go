package session

import (
	"fmt"
	"strings"
	"time"

	"xhale-breath/internal/analysis"
	"xhale-breath/internal/window"

	"github.com/google/uuid"
	"github.com/relvacode/iso8601"
)

// timestampLayout millisecond UTC form used in persisted records
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp epoch milliseconds as yyyy-MM-ddTHH:mm:ss.SSSZ in UTC
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timestampLayout)
}

// ParseTimestamp accepts any ISO-8601 timestamp
func ParseTimestamp(s string) (time.Time, error) {
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// NewSessionID random session identifier
func NewSessionID() string {
	return uuid.New().String()
}

// DataPoint persisted raw sample
type DataPoint struct {
	Timestamp      string   `json:"timestamp"`
	CORaw          *float64 `json:"coRaw,omitempty"`
	TemperatureC   *float64 `json:"temperatureC,omitempty"`
	BatteryPercent *int     `json:"batteryPercent,omitempty"`
	COPpm          *float64 `json:"coPpm,omitempty"`
}

// Record persisted form of one analysed breath
type Record struct {
	SessionID       string `json:"sessionId"`
	DeviceID        string `json:"deviceId"`
	UserID          string `json:"userId"`
	StartedAt       string `json:"startedAt"`
	EndedAt         string `json:"endedAt"`
	DurationSeconds int    `json:"durationSeconds"`
	analysis.BreathAnalysis
	BatteryPercent *int            `json:"batteryPercent,omitempty"`
	QualityFlags   map[string]bool `json:"qualityFlags"`
	Timestamps     []string        `json:"timestamps"`
	DataPoints     []DataPoint     `json:"dataPoints"`
}

// NewRecord assembles the record of a finished session. windowPoints must not be empty.
func NewRecord(sessionID, deviceID, userID string, result *analysis.BreathAnalysis,
	windowPoints []analysis.WindowPoint, samples []window.SamplePoint, batteryPercent *int) *Record {
	first := FormatTimestamp(windowPoints[0].TimestampMs)
	last := FormatTimestamp(windowPoints[len(windowPoints)-1].TimestampMs)

	points := make([]DataPoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, DataPoint{
			Timestamp:      FormatTimestamp(s.TimestampMs),
			CORaw:          s.CORaw,
			TemperatureC:   s.TemperatureC,
			BatteryPercent: s.BatteryPercent,
		})
	}

	return &Record{
		SessionID:       sessionID,
		DeviceID:        deviceID,
		UserID:          userID,
		StartedAt:       first,
		EndedAt:         last,
		DurationSeconds: result.BreathDurationSec,
		BreathAnalysis:  *result,
		BatteryPercent:  batteryPercent,
		QualityFlags:    result.Flags.AsMap(),
		Timestamps:      []string{first, last},
		DataPoints:      points,
	}
}

// Summary one-line human readable result, e.g. "PPM: 4.78, dT: 3.50 (short)"
func Summary(result *analysis.BreathAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PPM: %.2f, dT: %.2f", result.EstimatedPpm, result.TemperatureRiseC)
	if result.Flags.ShortDuration {
		b.WriteString(" (short)")
	}
	if result.Flags.SmallTemperatureRise {
		b.WriteString(" (low dT)")
	}
	if result.Flags.UnstableBaseline {
		b.WriteString(" (unstable baseline)")
	}
	return b.String()
}

// suspiciousLowRaw raw CO level below which both baseline and peak point at a damaged sensor
const suspiciousLowRaw = 200.0

// SensorSuspicious baseline and peak are both implausibly low
func SensorSuspicious(result *analysis.BreathAnalysis) bool {
	return result.BaselineCO < suspiciousLowRaw && result.PeakCO < suspiciousLowRaw
}
