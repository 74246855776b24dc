package models

import "encoding/json"

// SensorEvent one live reading published by a device gateway on xhale/{device}/sensor.
// Every field except DeviceID is optional; a gateway forwards whatever changed.
type SensorEvent struct {
	DeviceID          string   `json:"device_id"`
	TimestampMs       int64    `json:"timestamp_ms"`                    // gateway receive time
	CORaw             *float64 `json:"co_raw,omitempty"`                // raw ADC counts
	COUpdateMs        *int64   `json:"co_update_ms,omitempty"`          // device update time of CORaw
	TemperatureC      *float64 `json:"temperature_c,omitempty"`         // °C
	TemperatureCenti  *int16   `json:"temperature_centi,omitempty"`     // wire form, 0.01 °C
	TemperatureUpdate *int64   `json:"temperature_update_ms,omitempty"` // device update time of the temperature
	BatteryPercent    *int     `json:"battery_percent,omitempty"`
	SerialNumber      *string  `json:"serial_number,omitempty"`
	FirmwareRev       *string  `json:"firmware_rev,omitempty"`
}

// Temperature in °C; TemperatureC wins over the centi-degree form
func (e *SensorEvent) Temperature() (float64, bool) {
	if e.TemperatureC != nil {
		return *e.TemperatureC, true
	}
	if e.TemperatureCenti != nil {
		return float64(*e.TemperatureCenti) / 100.0, true
	}
	return 0, false
}

// COTimestamp update time of the CO reading, falling back to the event time
func (e *SensorEvent) COTimestamp() int64 {
	if e.COUpdateMs != nil {
		return *e.COUpdateMs
	}
	return e.TimestampMs
}

// TemperatureTimestamp update time of the temperature reading, falling back to the event time
func (e *SensorEvent) TemperatureTimestamp() int64 {
	if e.TemperatureUpdate != nil {
		return *e.TemperatureUpdate
	}
	return e.TimestampMs
}

// Command actions accepted on xhale/{device}/command
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionStart      = "start"
	ActionStop       = "stop"
	// ActionStatus publishes the service status snapshot
	ActionStatus = "status"
	// ActionRecalibrate drops the cached calibration of the device's serial and refetches it
	ActionRecalibrate = "recalibrate"
)

// Command operator/app request for one device
type Command struct {
	DeviceID    string `json:"device_id"`
	Action      string `json:"action"`                 // see Action* constants
	DurationSec int    `json:"duration_sec,omitempty"` // start only; 0 = configured default
	UserID      string `json:"user_id,omitempty"`
}

// AnalysisMessage entry of the analysis output stream
type AnalysisMessage struct {
	SessionID        string          `json:"session_id"`
	DeviceID         string          `json:"device_id"`
	SerialNumber     string          `json:"serial_number,omitempty"`
	Timestamp        int64           `json:"timestamp"`
	Summary          string          `json:"summary"`
	SensorSuspicious bool            `json:"sensor_suspicious"`
	Analysis         json.RawMessage `json:"analysis"`
}
