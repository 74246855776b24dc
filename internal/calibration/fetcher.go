package calibration

import "context"

// Fetcher loads the calibration of one normalized serial prefix.
// A nil calibration with a nil error means the device has none.
type Fetcher interface {
	FetchCalibration(ctx context.Context, prefix string) (*DeviceCalibration, error)
}

// Invalidator is implemented by fetchers that keep their own cache
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string) error
}
