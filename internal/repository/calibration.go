package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"xhale-breath/internal/calibration"

	"go.uber.org/zap"
)

// CalibrationRepository device_calibrations, keyed by normalized serial prefix
type CalibrationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCalibrationRepository creates the repository
func NewCalibrationRepository(db *sql.DB, logger *zap.Logger) *CalibrationRepository {
	return &CalibrationRepository{
		db:     db,
		logger: logger,
	}
}

// GetDeviceCalibration nil when no row exists or the row is disabled;
// calibration.ErrIncompleteDocument when a coefficient is NULL
func (r *CalibrationRepository) GetDeviceCalibration(ctx context.Context, prefix string) (*calibration.DeviceCalibration, error) {
	var (
		enabled   sql.NullBool
		drift     sql.NullFloat64
		gain      sql.NullFloat64
		tau       sql.NullFloat64
		dead      sql.NullFloat64
		updatedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT enabled, a_drift_raw_per_s, g_raw_per_ppm, tau_s, dead_s, updated_at
		FROM device_calibrations
		WHERE serial_prefix = $1`,
		prefix,
	).Scan(&enabled, &drift, &gain, &tau, &dead, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query device calibration: %w", err)
	}

	doc := calibration.Document{
		DriftRawPerSec: floatFromNull(drift),
		GainRawPerPpm:  floatFromNull(gain),
		TauSec:         floatFromNull(tau),
		DeadSec:        floatFromNull(dead),
	}
	if enabled.Valid {
		doc.Enabled = &enabled.Bool
	}

	cal, err := doc.Resolve(prefix)
	if err != nil || cal == nil {
		return cal, err
	}
	if updatedAt.Valid {
		cal.UpdatedAt = updatedAt.Time
	}
	return cal, nil
}

// FetchCalibration implements calibration.Fetcher
func (r *CalibrationRepository) FetchCalibration(ctx context.Context, prefix string) (*calibration.DeviceCalibration, error) {
	return r.GetDeviceCalibration(ctx, prefix)
}

// SaveDeviceCalibration upserts an enabled calibration
func (r *CalibrationRepository) SaveDeviceCalibration(ctx context.Context, cal *calibration.DeviceCalibration) error {
	if len(cal.SerialPrefix) != 8 {
		return fmt.Errorf("serial_prefix must be 8 characters, got %q", cal.SerialPrefix)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_calibrations (serial_prefix, enabled, a_drift_raw_per_s, g_raw_per_ppm, tau_s, dead_s, updated_at)
		VALUES ($1, TRUE, $2, $3, $4, $5, NOW())
		ON CONFLICT (serial_prefix) DO UPDATE SET
			enabled = TRUE,
			a_drift_raw_per_s = EXCLUDED.a_drift_raw_per_s,
			g_raw_per_ppm = EXCLUDED.g_raw_per_ppm,
			tau_s = EXCLUDED.tau_s,
			dead_s = EXCLUDED.dead_s,
			updated_at = NOW()`,
		cal.SerialPrefix, cal.DriftRawPerSec, cal.GainRawPerPpm, cal.TauSec, cal.DeadSec,
	)
	if err != nil {
		return fmt.Errorf("failed to save device calibration: %w", err)
	}
	r.logger.Info("Device calibration saved", zap.String("serial_prefix", cal.SerialPrefix))
	return nil
}
