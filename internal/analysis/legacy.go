package analysis

import "math"

type legacyBucket struct {
	durationSec int
	coeffs      LegacyGasCoefficients
}

// legacyGasByDuration chamber calibration by canonical sample duration
var legacyGasByDuration = [...]legacyBucket{
	{5, LegacyGasCoefficients{0.0406375, -0.0770252}},
	{10, LegacyGasCoefficients{0.126693, -0.475432}},
	{15, LegacyGasCoefficients{0.176892, -0.0411687}},
	{20, LegacyGasCoefficients{0.241434, -0.339973}},
	{30, LegacyGasCoefficients{0.305976, -0.638778}},
	{40, LegacyGasCoefficients{0.349004, -0.837981}},
	{50, LegacyGasCoefficients{0.370518, -0.937583}},
	{60, LegacyGasCoefficients{0.370518, -0.937583}},
}

// safeLegacyGas replaces a bucket whose slope is ~0
var safeLegacyGas = LegacyGasCoefficients{Slope: 0.98, Intercept: -1.8}

// LegacyResult output of the duration-bucket model
type LegacyResult struct {
	Ppm               float64
	Coefficients      LegacyGasCoefficients
	DurationBucketSec int
}

// NearestLegacyBucket canonical duration closest to durationSec; ties go to the shorter one
func NearestLegacyBucket(durationSec int) (int, LegacyGasCoefficients) {
	best := legacyGasByDuration[0]
	for _, b := range legacyGasByDuration[1:] {
		if absInt(b.durationSec-durationSec) < absInt(best.durationSec-durationSec) {
			best = b
		}
	}
	return best.durationSec, best.coeffs
}

// LegacyFallback ppm = max(0, (deltaRComp - intercept) / slope) for the nearest
// duration bucket. Always produces a finite, non-negative value.
func LegacyFallback(deltaRComp float64, durationSec int) LegacyResult {
	bucket, coeffs := NearestLegacyBucket(durationSec)

	var ppm float64
	if math.Abs(coeffs.Slope) <= nearZero {
		ppm = math.Max(0, (deltaRComp-safeLegacyGas.Intercept)/safeLegacyGas.Slope)
	} else {
		ppm = math.Max(0, (deltaRComp-coeffs.Intercept)/coeffs.Slope)
	}
	if !isFinite(ppm) {
		ppm = 0
	}

	return LegacyResult{
		Ppm:               ppm,
		Coefficients:      coeffs,
		DurationBucketSec: bucket,
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
