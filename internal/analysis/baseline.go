package analysis

// initialTempBaselineMaxPoints samples averaged for the onset reference temperature
const initialTempBaselineMaxPoints = 10

// preBreathTrimmedMinPoints pre-breath samples required for the trimmed baseline
const preBreathTrimmedMinPoints = 5

// Onset where the breath starts in a sorted window
type Onset struct {
	// Index of the first sample at or above Threshold; 0 when none is
	Index               int
	InitialTempBaseline float64
	Threshold           float64
	Found               bool
}

// DetectBreathOnset finds the first sample whose temperature reaches the mean
// of the first (up to) 10 temperatures plus riseC. window must be sorted and non-empty.
func DetectBreathOnset(window []WindowPoint, riseC float64) Onset {
	n := len(window)
	if n > initialTempBaselineMaxPoints {
		n = initialTempBaselineMaxPoints
	}
	initial := Mean(temperatures(window[:n]))
	onset := Onset{
		InitialTempBaseline: initial,
		Threshold:           initial + riseC,
	}
	for i, p := range window {
		if p.TemperatureC >= onset.Threshold {
			onset.Index = i
			onset.Found = true
			break
		}
	}
	return onset
}

// Baseline pre-breath resting values
type Baseline struct {
	Onset       Onset
	PreBreath   []WindowPoint
	RawCO       float64
	Temperature float64
	Voltage     *float64
}

// EstimateBaseline derives the baseline raw value, temperature and voltage from
// the samples preceding the breath onset, falling back to the warm-up baseline
// and then to the first samples of the window when too few pre-breath samples exist.
func EstimateBaseline(window []WindowPoint, warmupBaselineRaw *float64, riseC float64) Baseline {
	onset := DetectBreathOnset(window, riseC)
	preBreath := window[:onset.Index]
	first := window[0]

	var raw float64
	switch {
	case len(preBreath) >= preBreathTrimmedMinPoints:
		raw = TrimmedMean(rawValues(preBreath))
	case len(preBreath) >= 2:
		raw = Mean(rawValues(preBreath[:2]))
	case warmupBaselineRaw != nil:
		raw = *warmupBaselineRaw
	case len(window) >= 2:
		raw = Mean(rawValues(window[:2]))
	default:
		raw = first.RawCO
	}
	if !isFinite(raw) {
		raw = first.RawCO
	}

	temp := onset.InitialTempBaseline
	if len(preBreath) >= preBreathTrimmedMinPoints {
		temp = Mean(temperatures(preBreath))
	}
	if !isFinite(temp) {
		temp = first.TemperatureC
	}

	return Baseline{
		Onset:       onset,
		PreBreath:   preBreath,
		RawCO:       raw,
		Temperature: temp,
		Voltage:     firstFiniteVoltage(window),
	}
}

// Voltage is treated as constant over one breath.
func firstFiniteVoltage(window []WindowPoint) *float64 {
	for _, p := range window {
		if p.VoltageV != nil && isFinite(*p.VoltageV) {
			return float64Ptr(*p.VoltageV)
		}
	}
	return nil
}

// Peak the highest raw CO sample at or after the onset
type Peak struct {
	RawCO       float64
	Temperature float64
	Voltage     *float64
}

// FindPeak searches from the onset index to the end (the whole window if that
// range is empty); the first maximum wins.
func FindPeak(window []WindowPoint, onsetIndex int, baselineVoltage *float64) Peak {
	candidates := window[onsetIndex:]
	if len(candidates) == 0 {
		candidates = window
	}
	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.RawCO > best.RawCO {
			best = p
		}
	}
	return Peak{
		RawCO:       best.RawCO,
		Temperature: best.TemperatureC,
		Voltage:     baselineVoltage,
	}
}
