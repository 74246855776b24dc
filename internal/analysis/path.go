package analysis

import "math"

// pathInput everything a calibration strategy may look at
type pathInput struct {
	window            []WindowPoint
	deltaT            float64
	deltaRComp        float64
	breathDurationSec int
	options           Options
	coeffs            AnalyzeCoefficients
}

type pathResult struct {
	ppm         float64
	calibration Calibration
}

// calibrationStrategy returns ok=false to hand over to the next strategy
type calibrationStrategy func(in pathInput) (pathResult, bool)

// firstSuccess runs strategies in order and returns the first result
func firstSuccess(in pathInput, strategies ...calibrationStrategy) (pathResult, bool) {
	for _, strategy := range strategies {
		if result, ok := strategy(in); ok && isFinite(result.ppm) {
			return result, true
		}
	}
	return pathResult{}, false
}

func humanBreathStrategy(in pathInput) (pathResult, bool) {
	if !(in.deltaT > in.coeffs.HumanPathTempRiseThresholdC) {
		return pathResult{}, false
	}
	slope := in.coeffs.HumanSlopeRawPerPpm
	if math.Abs(slope) <= nearZero {
		return pathResult{}, false
	}
	return pathResult{
		ppm: math.Max(0, (in.deltaRComp-in.coeffs.HumanInterceptRaw)/slope),
		calibration: Calibration{
			Path:           PathHumanBreath,
			Mode:           ModeHumanBreath,
			Source:         SourceHuman,
			SlopeRawPerPpm: float64Ptr(slope),
			Intercept:      float64Ptr(in.coeffs.HumanInterceptRaw),
		},
	}, true
}

func gasFitStrategy(in pathInput) (pathResult, bool) {
	coeffs, source := ResolveGasFitCoefficients(in.options.CloudCoefficients, in.options.SerialNumber)
	fit, ok := FitGasResponse(in.window, coeffs, source)
	if !ok {
		return pathResult{}, false
	}
	return pathResult{
		ppm: fit.Ppm,
		calibration: Calibration{
			Path:           PathGasFit,
			Mode:           ModeGasFit,
			Source:         fit.Source,
			GainRawPerPpm:  float64Ptr(fit.Coefficients.GainRawPerPpm),
			DriftRawPerSec: float64Ptr(fit.Coefficients.DriftRawPerSec),
			TauSec:         float64Ptr(fit.Coefficients.TauSec),
			DeadSec:        float64Ptr(fit.Coefficients.DeadSec),
		},
	}, true
}

func legacyStrategy(in pathInput) (pathResult, bool) {
	duration := in.breathDurationSec
	if in.options.SampleDurationSec != nil {
		duration = *in.options.SampleDurationSec
	}
	legacy := LegacyFallback(in.deltaRComp, duration)
	return pathResult{
		ppm: legacy.Ppm,
		calibration: Calibration{
			Path:              PathLegacyGasFallback,
			Mode:              ModeCalibrationGas,
			Source:            SourceLegacy,
			SlopeRawPerPpm:    float64Ptr(legacy.Coefficients.Slope),
			Intercept:         float64Ptr(legacy.Coefficients.Intercept),
			DurationBucketSec: intPtr(legacy.DurationBucketSec),
		},
	}, true
}
