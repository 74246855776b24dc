package analysis

import (
	"errors"
	"fmt"
	"math"
)

// MethodName identifies the algorithm revision stored with every result
const MethodName = "AnalyzeBreath_v2"

// ErrEmptyWindow is returned when Analyze is called without samples
var ErrEmptyWindow = errors.New("analysis: window must not be empty")

// WindowPoint one synchronized sample of a breath window
type WindowPoint struct {
	TimestampMs  int64    `json:"timestamp_ms"`
	RawCO        float64  `json:"raw_co"`
	TemperatureC float64  `json:"temperature_c"`
	VoltageV     *float64 `json:"voltage_v,omitempty"`
}

// AnalyzeCoefficients tunable constants of the analysis
type AnalyzeCoefficients struct {
	TempCompRawPerC             float64 `toml:"temp_comp_raw_per_c" json:"temp_comp_raw_per_c"`
	VoltageCompRawPerV          float64 `toml:"voltage_comp_raw_per_v" json:"voltage_comp_raw_per_v"`
	HumanSlopeRawPerPpm         float64 `toml:"human_slope_raw_per_ppm" json:"human_slope_raw_per_ppm"`
	HumanInterceptRaw           float64 `toml:"human_intercept_raw" json:"human_intercept_raw"`
	BreathStartTempRiseC        float64 `toml:"breath_start_temp_rise_c" json:"breath_start_temp_rise_c"`
	HumanPathTempRiseThresholdC float64 `toml:"human_path_temp_rise_threshold_c" json:"human_path_temp_rise_threshold_c"`
}

// DefaultAnalyzeCoefficients process-wide defaults
func DefaultAnalyzeCoefficients() AnalyzeCoefficients {
	return AnalyzeCoefficients{
		TempCompRawPerC:             0.80,
		VoltageCompRawPerV:          150.3,
		HumanSlopeRawPerPpm:         3.6,
		HumanInterceptRaw:           0.0,
		BreathStartTempRiseC:        0.8,
		HumanPathTempRiseThresholdC: 2.0,
	}
}

// Validate rejects coefficient sets that would make the human path divide by ~0
// or contain non-finite values.
func (c AnalyzeCoefficients) Validate() error {
	values := map[string]float64{
		"temp_comp_raw_per_c":              c.TempCompRawPerC,
		"voltage_comp_raw_per_v":           c.VoltageCompRawPerV,
		"human_slope_raw_per_ppm":          c.HumanSlopeRawPerPpm,
		"human_intercept_raw":              c.HumanInterceptRaw,
		"breath_start_temp_rise_c":         c.BreathStartTempRiseC,
		"human_path_temp_rise_threshold_c": c.HumanPathTempRiseThresholdC,
	}
	for name, v := range values {
		if !isFinite(v) {
			return fmt.Errorf("coefficient %s is not finite", name)
		}
	}
	if math.Abs(c.HumanSlopeRawPerPpm) <= nearZero {
		return fmt.Errorf("coefficient human_slope_raw_per_ppm must be non-zero")
	}
	return nil
}

// GasFitCoefficients per-device kinetic model of the sensor response
type GasFitCoefficients struct {
	DriftRawPerSec float64 `json:"drift_raw_per_s"`
	GainRawPerPpm  float64 `json:"gain_raw_per_ppm"`
	TauSec         float64 `json:"tau_s"`
	DeadSec        float64 `json:"dead_s"`
}

// LegacyGasCoefficients linear model of one duration bucket
type LegacyGasCoefficients struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// BreathFlags data-quality flags
type BreathFlags struct {
	ShortDuration        bool `json:"shortDuration"`
	SmallTemperatureRise bool `json:"smallTemperatureRise"`
	UnstableBaseline     bool `json:"unstableBaseline"`
}

// AsMap keyed the way session records store them
func (f BreathFlags) AsMap() map[string]bool {
	return map[string]bool{
		"shortDuration":        f.ShortDuration,
		"smallTemperatureRise": f.SmallTemperatureRise,
		"unstableBaseline":     f.UnstableBaseline,
	}
}

// CalibrationPath strategy that produced the ppm value
type CalibrationPath string

const (
	PathHumanBreath       CalibrationPath = "HUMAN_BREATH"
	PathGasFit            CalibrationPath = "GAS_FIT"
	PathLegacyGasFallback CalibrationPath = "LEGACY_GAS_FALLBACK"
)

// Calibration modes and sources recorded with a result
const (
	ModeHumanBreath    = "human_breath"
	ModeGasFit         = "gas_fit_20s"
	ModeCalibrationGas = "calibration_gas"

	SourceHuman  = "human"
	SourceCloud  = "cloud"
	SourceLocal  = "local"
	SourceGlobal = "global"
	SourceLegacy = "legacy_duration_bucket"
)

// Calibration provenance of a result. Only the fields of the chosen path are set.
type Calibration struct {
	Path              CalibrationPath `json:"calibrationPath"`
	Mode              string          `json:"calibrationMode"`
	Source            string          `json:"calibrationSource"`
	SlopeRawPerPpm    *float64        `json:"calibrationSlopeRawPerPpm,omitempty"`
	Intercept         *float64        `json:"calibrationIntercept,omitempty"`
	GainRawPerPpm     *float64        `json:"calibrationGainRawPerPpm,omitempty"`
	DriftRawPerSec    *float64        `json:"calibrationDriftRawPerSec,omitempty"`
	TauSec            *float64        `json:"calibrationTauSec,omitempty"`
	DeadSec           *float64        `json:"calibrationDeadSec,omitempty"`
	DurationBucketSec *int            `json:"calibrationDurationBucketSec,omitempty"`
}

// BreathAnalysis immutable result of one completed sampling session
type BreathAnalysis struct {
	EstimatedPpm        float64     `json:"estimatedPpm"`
	DeltaRComp          float64     `json:"deltaRComp"`
	BreathDurationSec   int         `json:"breathDurationSec"`
	TemperatureRiseC    float64     `json:"temperatureRiseC"`
	BaselineCO          float64     `json:"baselineCO"`
	BaselineTemperature float64     `json:"baselineTemperature"`
	BaselineVoltage     *float64    `json:"baselineVoltage,omitempty"`
	PeakCO              float64     `json:"peakCO"`
	PeakTemperature     float64     `json:"peakTemperature"`
	PeakVoltage         *float64    `json:"peakVoltage,omitempty"`
	Flags               BreathFlags `json:"flags"`
	Method              string      `json:"method"`
	Calibration
}

// Options per-call inputs besides the window
type Options struct {
	SerialNumber      string
	WarmupBaselineRaw *float64
	CloudCoefficients *GasFitCoefficients
	SampleDurationSec *int
}

func float64Ptr(v float64) *float64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}
