package analysis

import (
	"math"
	"strings"
	"unicode"
)

const (
	gasFitWindowSec        = 20.0
	gasDerivativeThreshold = 0.1 // raw/s
	gasMinDeltaRaw         = 1.0
	gasFitMinPoints        = 6
	serialPrefixLength     = 8
)

// GlobalGasFit used when neither cloud nor per-device coefficients exist
var GlobalGasFit = GasFitCoefficients{
	DriftRawPerSec: 0.0,
	GainRawPerPpm:  0.695,
	TauSec:         22.0,
	DeadSec:        0.0,
}

type deviceGasFit struct {
	prefix string
	coeffs GasFitCoefficients
}

// perDeviceGasFit factory-characterized sensors, keyed by serial prefix
var perDeviceGasFit = [...]deviceGasFit{
	{"6C8A4BC7", GasFitCoefficients{-0.0227256, 0.798849, 34.25, 5.5}},
	{"D1A07CD4", GasFitCoefficients{-0.0637795, 0.653858, 14.5, 1.4}},
	{"D92EC0CB", GasFitCoefficients{-0.0401157, 0.724937, 19.5, 4.0}},
	{"F2E4CB88", GasFitCoefficients{-0.0314408, 0.697511, 19.5, 3.3}},
	{"F685F16F", GasFitCoefficients{-0.0333294, 0.692745, 24.5, 5.6}},
}

// LocalGasFit looks up the per-device table by normalized serial prefix
func LocalGasFit(prefix string) (GasFitCoefficients, bool) {
	for _, d := range perDeviceGasFit {
		if d.prefix == prefix {
			return d.coeffs, true
		}
	}
	return GasFitCoefficients{}, false
}

// NormalizeSerialPrefix keeps letters and digits, uppercases, and takes the
// first 8 characters. ok is false unless exactly 8 characters remain.
func NormalizeSerialPrefix(serial string) (string, bool) {
	var b strings.Builder
	for _, r := range serial {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteString(strings.ToUpper(string(r)))
		}
	}
	cleaned := []rune(b.String())
	if len(cleaned) < serialPrefixLength {
		return string(cleaned), false
	}
	return string(cleaned[:serialPrefixLength]), true
}

// ResolveGasFitCoefficients applies the precedence cloud > local table > global
// and returns the chosen coefficients with their source.
func ResolveGasFitCoefficients(cloud *GasFitCoefficients, serial string) (GasFitCoefficients, string) {
	if cloud != nil {
		return *cloud, SourceCloud
	}
	if prefix, ok := NormalizeSerialPrefix(serial); ok {
		if local, found := LocalGasFit(prefix); found {
			return local, SourceLocal
		}
	}
	return GlobalGasFit, SourceGlobal
}

// GasFitResult output of a successful exponential fit
type GasFitResult struct {
	Ppm          float64
	Amplitude    float64
	StartSec     float64
	Source       string
	Coefficients GasFitCoefficients
}

// FitGasResponse fits the amplitude of a(1-exp(-(u-dead)/tau)) to the
// drift-corrected raw signal over the 20s following the detected response
// onset. ok is false when the window is too short, the coefficients are
// unusable, or the fit is numerically degenerate.
func FitGasResponse(window []WindowPoint, coeffs GasFitCoefficients, source string) (GasFitResult, bool) {
	if len(window) < gasFitMinPoints || coeffs.GainRawPerPpm <= 0 || coeffs.TauSec <= 0 {
		return GasFitResult{}, false
	}

	t0 := window[0].TimestampMs
	times := make([]float64, len(window))
	for i, p := range window {
		times[i] = float64(p.TimestampMs-t0) / 1000.0
	}
	co := rawValues(window)

	b0, anchorSec := baselineAnchor(co, times)
	delta := driftCorrectedDelta(co, times, b0, anchorSec, coeffs.DriftRawPerSec)

	startSec := times[0]
	if idx, found := detectResponseStart(times, delta); found {
		startSec = times[idx]
	}

	amplitude, ok := fitAmplitude(times, delta, startSec, coeffs.TauSec, coeffs.DeadSec)
	if !ok {
		return GasFitResult{}, false
	}

	ppm := math.Max(0, amplitude/coeffs.GainRawPerPpm)
	if !isFinite(ppm) {
		return GasFitResult{}, false
	}

	return GasFitResult{
		Ppm:          ppm,
		Amplitude:    amplitude,
		StartSec:     startSec,
		Source:       source,
		Coefficients: coeffs,
	}, true
}

// baselineAnchor averages the first (up to) two samples and anchors them at
// their midpoint time.
func baselineAnchor(co, times []float64) (float64, float64) {
	if len(co) >= 2 {
		return (co[0] + co[1]) / 2.0, (times[0] + times[1]) / 2.0
	}
	return co[0], times[0]
}

func driftCorrectedDelta(co, times []float64, b0, anchorSec, driftRawPerSec float64) []float64 {
	delta := make([]float64, len(co))
	for i := range co {
		delta[i] = co[i] - (b0 + driftRawPerSec*(times[i]-anchorSec))
	}
	return delta
}

// detectResponseStart first index whose smoothed derivative and raw delta both
// exceed their thresholds.
func detectResponseStart(times, delta []float64) (int, bool) {
	if len(times) != len(delta) || len(times) <= 1 {
		return 0, false
	}
	smoothed := movingAverage3(delta)
	for i := 1; i < len(times); i++ {
		dt := times[i] - times[i-1]
		if dt <= 0 {
			continue
		}
		derivative := (smoothed[i] - smoothed[i-1]) / dt
		if derivative >= gasDerivativeThreshold && delta[i] >= gasMinDeltaRaw {
			return i, true
		}
	}
	return 0, false
}

// fitAmplitude single-parameter least squares against the fixed step-response basis
func fitAmplitude(times, delta []float64, startSec, tauSec, deadSec float64) (float64, bool) {
	if len(times) != len(delta) || len(times) == 0 || tauSec <= 0 {
		return 0, false
	}
	dead := math.Max(0, deadSec)

	numerator, denominator := 0.0, 0.0
	for i := range times {
		u := times[i] - startSec
		if u < 0 {
			continue
		}
		if u > gasFitWindowSec {
			break
		}
		effective := math.Max(0, u-dead)
		f := 0.0
		if effective > 0 {
			f = 1.0 - math.Exp(-effective/tauSec)
		}
		numerator += delta[i] * f
		denominator += f * f
	}

	if denominator <= nearZero {
		return 0, false
	}
	amplitude := numerator / denominator
	return amplitude, isFinite(amplitude)
}
