package analysis

import (
	"sort"
)

// Analyzer converts a breath window into a ppm estimate. It holds no mutable
// state and is safe for concurrent use.
type Analyzer struct {
	coeffs     AnalyzeCoefficients
	strategies []calibrationStrategy
}

// NewAnalyzer creates an analyzer; coefficients are expected to be validated
func NewAnalyzer(coeffs AnalyzeCoefficients) *Analyzer {
	return &Analyzer{
		coeffs: coeffs,
		strategies: []calibrationStrategy{
			humanBreathStrategy,
			gasFitStrategy,
			legacyStrategy,
		},
	}
}

// NewDefaultAnalyzer analyzer with DefaultAnalyzeCoefficients
func NewDefaultAnalyzer() *Analyzer {
	return NewAnalyzer(DefaultAnalyzeCoefficients())
}

// Coefficients in use
func (a *Analyzer) Coefficients() AnalyzeCoefficients {
	return a.coeffs
}

// Analyze estimates the CO ppm of one breath window. The window is sorted by
// timestamp before use; the only failure is an empty window.
func (a *Analyzer) Analyze(window []WindowPoint, opts Options) (*BreathAnalysis, error) {
	if len(window) == 0 {
		return nil, ErrEmptyWindow
	}

	sorted := append([]WindowPoint(nil), window...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	baseline := EstimateBaseline(sorted, opts.WarmupBaselineRaw, a.coeffs.BreathStartTempRiseC)
	peak := FindPeak(sorted, baseline.Onset.Index, baseline.Voltage)

	// Voltage is constant per breath, so its compensation term is always zero.
	deltaT := peak.Temperature - baseline.Temperature
	deltaV := 0.0
	deltaRComp := (peak.RawCO - baseline.RawCO) -
		a.coeffs.TempCompRawPerC*deltaT -
		a.coeffs.VoltageCompRawPerV*deltaV

	startMs := sorted[baseline.Onset.Index].TimestampMs
	elapsedMs := sorted[len(sorted)-1].TimestampMs - startMs
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	breathDurationSec := int(elapsedMs / 1000)

	in := pathInput{
		window:            sorted,
		deltaT:            deltaT,
		deltaRComp:        deltaRComp,
		breathDurationSec: breathDurationSec,
		options:           opts,
		coeffs:            a.coeffs,
	}
	result, ok := firstSuccess(in, a.strategies...)
	if !ok {
		result, _ = legacyStrategy(in)
	}

	return &BreathAnalysis{
		EstimatedPpm:        result.ppm,
		DeltaRComp:          deltaRComp,
		BreathDurationSec:   breathDurationSec,
		TemperatureRiseC:    deltaT,
		BaselineCO:          baseline.RawCO,
		BaselineTemperature: baseline.Temperature,
		BaselineVoltage:     baseline.Voltage,
		PeakCO:              peak.RawCO,
		PeakTemperature:     peak.Temperature,
		PeakVoltage:         peak.Voltage,
		Flags:               EvaluateFlags(breathDurationSec, deltaT, baseline.PreBreath),
		Method:              MethodName,
		Calibration:         result.calibration,
	}, nil
}
