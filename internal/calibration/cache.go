package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xhale-breath/internal/analysis"

	"go.uber.org/zap"
)

// Cache per-serial-prefix calibration cache shared by all sessions.
// A nil entry records that the device is known to have no calibration.
type Cache struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	entries  map[string]*DeviceCalibration
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewCache creates a cache; timeout bounds each fetch (0 = no bound)
func NewCache(fetcher Fetcher, timeout time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		fetcher:  fetcher,
		timeout:  timeout,
		logger:   logger,
		entries:  make(map[string]*DeviceCalibration),
		inFlight: make(map[string]struct{}),
	}
}

// EnsureFetched starts a background fetch for the serial's prefix unless it is
// cached, already being fetched, or the serial does not normalize to 8
// characters. Reports whether a fetch was started.
func (c *Cache) EnsureFetched(ctx context.Context, serial string) bool {
	prefix, ok := analysis.NormalizeSerialPrefix(serial)
	if !ok {
		return false
	}

	c.mu.Lock()
	if _, cached := c.entries[prefix]; cached {
		c.mu.Unlock()
		return false
	}
	if _, busy := c.inFlight[prefix]; busy {
		c.mu.Unlock()
		return false
	}
	c.inFlight[prefix] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.fetch(context.WithoutCancel(ctx), prefix)
	return true
}

func (c *Cache) fetch(ctx context.Context, prefix string) {
	defer c.wg.Done()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cal, err := c.fetcher.FetchCalibration(ctx, prefix)
	if errors.Is(err, ErrIncompleteDocument) {
		c.logger.Warn("Calibration document incomplete, using built-in coefficients",
			zap.String("serial_prefix", prefix),
		)
		cal, err = nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, prefix)

	if err != nil {
		// left uncached so the next reading retries
		c.logger.Warn("Failed to fetch device calibration",
			zap.String("serial_prefix", prefix),
			zap.Error(err),
		)
		return
	}
	c.entries[prefix] = cal

	if cal != nil {
		c.logger.Info("Device calibration cached",
			zap.String("serial_prefix", prefix),
			zap.Float64("gain_raw_per_ppm", cal.GainRawPerPpm),
			zap.Float64("tau_s", cal.TauSec),
		)
	} else {
		c.logger.Debug("No calibration for device", zap.String("serial_prefix", prefix))
	}
}

// Lookup cached entry for a normalized prefix; found is false when nothing is cached yet
func (c *Cache) Lookup(prefix string) (cal *DeviceCalibration, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cal, found = c.entries[prefix]
	return cal, found
}

// Coefficients snapshot of the cached gas-fit coefficients for serial, nil when
// none are cached
func (c *Cache) Coefficients(serial string) *analysis.GasFitCoefficients {
	prefix, ok := analysis.NormalizeSerialPrefix(serial)
	if !ok {
		return nil
	}
	cal, _ := c.Lookup(prefix)
	if cal == nil {
		return nil
	}
	coeffs := cal.ToGasFit()
	return &coeffs
}

// Invalidate drops the cached entry, and the fetcher's own cached copy when it
// keeps one, so the next EnsureFetched refetches from the source
func (c *Cache) Invalidate(ctx context.Context, serial string) error {
	prefix, ok := analysis.NormalizeSerialPrefix(serial)
	if !ok {
		return nil
	}
	c.mu.Lock()
	delete(c.entries, prefix)
	c.mu.Unlock()

	if inv, ok := c.fetcher.(Invalidator); ok {
		if err := inv.Invalidate(ctx, prefix); err != nil {
			return fmt.Errorf("failed to invalidate calibration of %s: %w", prefix, err)
		}
	}
	return nil
}

// Wait blocks until all in-flight fetches have finished
func (c *Cache) Wait() {
	c.wg.Wait()
}
