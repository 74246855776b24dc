package analysis

import (
	"math"
	"sort"
)

// nearZero guards every division in the engine
const nearZero = 1e-9

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Mean of values, 0 for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// TrimmedMean drops ceil(10%) of the sorted values from each end.
// Lists shorter than 5 use the plain mean; an empty list yields NaN.
func TrimmedMean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	if len(values) < 5 {
		return Mean(values)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	trim := int(math.Ceil(float64(len(sorted)) * 0.1))
	if trim < 1 {
		trim = 1
	}
	if 2*trim >= len(sorted) {
		return Mean(sorted)
	}
	return Mean(sorted[trim : len(sorted)-trim])
}

// SampleStdDev sample standard deviation (n-1), 0 for fewer than two values
func SampleStdDev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	avg := Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// movingAverage3 centered 3-point average; the end points are kept as-is
func movingAverage3(values []float64) []float64 {
	smoothed := append([]float64(nil), values...)
	if len(values) < 3 {
		return smoothed
	}
	for i := 1; i < len(values)-1; i++ {
		smoothed[i] = (values[i-1] + values[i] + values[i+1]) / 3.0
	}
	return smoothed
}

func rawValues(points []WindowPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.RawCO
	}
	return out
}

func temperatures(points []WindowPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.TemperatureC
	}
	return out
}
