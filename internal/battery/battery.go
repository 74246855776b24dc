package battery

// cr2032Point one point of the discharge curve
type cr2032Point struct {
	voltage float64
	percent int
}

// cr2032Curve CR2032 state of charge, highest voltage first
var cr2032Curve = [...]cr2032Point{
	{3.00, 100},
	{2.95, 95},
	{2.90, 88},
	{2.85, 78},
	{2.80, 66},
	{2.75, 52},
	{2.70, 38},
	{2.65, 26},
	{2.60, 16},
	{2.55, 9},
	{2.50, 4},
	{2.45, 2},
	{2.40, 0},
}

const (
	rawToVoltageOffset = 4.67
	rawToVoltageScale  = 150.30

	nominalCapacityMah = 220.0

	// typicalRuntimeHours 170h nominal at 80% effective capacity
	typicalRuntimeHours = 170.0 * 0.8
)

// PercentFromVoltage maps a cell voltage onto the CR2032 curve with truncating
// linear interpolation. Values outside the curve clamp to 100 or 0; NaN yields 0.
func PercentFromVoltage(voltage float64) int {
	first, last := cr2032Curve[0], cr2032Curve[len(cr2032Curve)-1]
	if voltage >= first.voltage {
		return first.percent
	}
	if voltage <= last.voltage {
		return last.percent
	}

	for i := 0; i < len(cr2032Curve)-1; i++ {
		high, low := cr2032Curve[i], cr2032Curve[i+1]
		if voltage <= high.voltage && voltage >= low.voltage {
			ratio := (voltage - low.voltage) / (high.voltage - low.voltage)
			percent := int(float64(low.percent) + float64(high.percent-low.percent)*ratio)
			return clampPercent(percent)
		}
	}
	return 0
}

// VoltageFromRaw converts the battery ADC reading to volts
func VoltageFromRaw(raw float64) float64 {
	return (raw + rawToVoltageOffset) / rawToVoltageScale
}

// CapacityMah remaining capacity of a 220 mAh cell
func CapacityMah(percent int) float64 {
	return nominalCapacityMah * float64(percent) / 100.0
}

// Estimate remaining runtime with a coarse display bucket
type Estimate struct {
	HoursRemaining float64 `json:"hours_remaining"`
	BucketPercent  int     `json:"bucket_percent"`
}

// EstimateRuntime ok is false when no percentage is known
func EstimateRuntime(percent *int) (Estimate, bool) {
	if percent == nil {
		return Estimate{}, false
	}
	p := clampPercent(*percent)

	var bucket int
	switch {
	case p >= 88:
		bucket = 100
	case p >= 63:
		bucket = 75
	case p >= 38:
		bucket = 50
	case p >= 13:
		bucket = 25
	default:
		bucket = 0
	}

	return Estimate{
		HoursRemaining: typicalRuntimeHours * float64(p) / 100.0,
		BucketPercent:  bucket,
	}, true
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
