package analysis

import "math"

const (
	shortDurationSec          = 5
	smallTemperatureRiseC     = 1.0
	preBreathStdDevMinAbsRaw  = 5.0
	preBreathStdDevRelative   = 0.02
	unstableBaselineMinPoints = 5
)

// UnstableBaselineThreshold max(5, 2% of max(1, mean)) raw units
func UnstableBaselineThreshold(preBreathMean float64) float64 {
	return math.Max(preBreathStdDevMinAbsRaw, preBreathStdDevRelative*math.Max(1.0, preBreathMean))
}

// EvaluateFlags computes the data-quality flags of one breath
func EvaluateFlags(breathDurationSec int, deltaT float64, preBreath []WindowPoint) BreathFlags {
	raw := rawValues(preBreath)
	unstable := len(preBreath) >= unstableBaselineMinPoints &&
		SampleStdDev(raw) > UnstableBaselineThreshold(Mean(raw))

	return BreathFlags{
		ShortDuration:        breathDurationSec < shortDurationSec,
		SmallTemperatureRise: deltaT < smallTemperatureRiseC,
		UnstableBaseline:     unstable,
	}
}
