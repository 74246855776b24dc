package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"xhale-breath/internal/analysis"

	"github.com/relvacode/iso8601"
)

// ErrIncompleteDocument a required coefficient is missing from a calibration document
var ErrIncompleteDocument = errors.New("calibration: incomplete document")

// Document wire form of a cloud calibration document
type Document struct {
	Enabled        *bool    `json:"enabled,omitempty"`
	DriftRawPerSec *float64 `json:"a_drift_raw_per_s"`
	GainRawPerPpm  *float64 `json:"G_raw_per_ppm"`
	TauSec         *float64 `json:"tau_s"`
	DeadSec        *float64 `json:"dead_s"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

// DeviceCalibration resolved per-device gas-fit calibration
type DeviceCalibration struct {
	SerialPrefix   string    `json:"serial_prefix"`
	DriftRawPerSec float64   `json:"a_drift_raw_per_s"`
	GainRawPerPpm  float64   `json:"G_raw_per_ppm"`
	TauSec         float64   `json:"tau_s"`
	DeadSec        float64   `json:"dead_s"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// ToGasFit coefficients in the form the analyzer consumes
func (c *DeviceCalibration) ToGasFit() analysis.GasFitCoefficients {
	return analysis.GasFitCoefficients{
		DriftRawPerSec: c.DriftRawPerSec,
		GainRawPerPpm:  c.GainRawPerPpm,
		TauSec:         c.TauSec,
		DeadSec:        c.DeadSec,
	}
}

// Resolve returns nil for a disabled document and ErrIncompleteDocument when
// any coefficient is missing. enabled defaults to true.
func (d *Document) Resolve(prefix string) (*DeviceCalibration, error) {
	if d.Enabled != nil && !*d.Enabled {
		return nil, nil
	}
	if d.DriftRawPerSec == nil || d.GainRawPerPpm == nil || d.TauSec == nil || d.DeadSec == nil {
		return nil, fmt.Errorf("%w: prefix %s", ErrIncompleteDocument, prefix)
	}

	cal := &DeviceCalibration{
		SerialPrefix:   prefix,
		DriftRawPerSec: *d.DriftRawPerSec,
		GainRawPerPpm:  *d.GainRawPerPpm,
		TauSec:         *d.TauSec,
		DeadSec:        *d.DeadSec,
	}
	if d.UpdatedAt != "" {
		if ts, err := iso8601.ParseString(d.UpdatedAt); err == nil {
			cal.UpdatedAt = ts
		}
	}
	return cal, nil
}

// ParseDocument decodes and resolves a JSON calibration document
func ParseDocument(prefix string, data []byte) (*DeviceCalibration, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calibration document: %w", err)
	}
	return doc.Resolve(prefix)
}
