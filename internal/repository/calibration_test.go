package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"xhale-breath/internal/calibration"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var calibrationColumns = []string{"enabled", "a_drift_raw_per_s", "g_raw_per_ppm", "tau_s", "dead_s", "updated_at"}

func setupMockCalibrationDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *CalibrationRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewCalibrationRepository(db, zap.NewNop())
}

func TestGetDeviceCalibration_Success(t *testing.T) {
	db, mock, repo := setupMockCalibrationDB(t)
	defer db.Close()

	updated := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM device_calibrations`).
		WithArgs("D1A07CD4").
		WillReturnRows(sqlmock.NewRows(calibrationColumns).
			AddRow(nil, -0.0637795, 0.653858, 14.5, 1.4, updated))

	cal, err := repo.GetDeviceCalibration(context.Background(), "D1A07CD4")

	require.NoError(t, err)
	require.NotNil(t, cal)
	assert.Equal(t, "D1A07CD4", cal.SerialPrefix)
	assert.Equal(t, 0.653858, cal.GainRawPerPpm)
	assert.Equal(t, 14.5, cal.TauSec)
	assert.True(t, cal.UpdatedAt.Equal(updated))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceCalibration_NotFound(t *testing.T) {
	db, mock, repo := setupMockCalibrationDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM device_calibrations`).
		WithArgs("ZZZZZZZZ").
		WillReturnRows(sqlmock.NewRows(calibrationColumns))

	cal, err := repo.FetchCalibration(context.Background(), "ZZZZZZZZ")

	require.NoError(t, err)
	assert.Nil(t, cal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceCalibration_Disabled(t *testing.T) {
	db, mock, repo := setupMockCalibrationDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM device_calibrations`).
		WithArgs("D1A07CD4").
		WillReturnRows(sqlmock.NewRows(calibrationColumns).
			AddRow(false, -0.06, 0.65, 14.5, 1.4, nil))

	cal, err := repo.GetDeviceCalibration(context.Background(), "D1A07CD4")

	require.NoError(t, err)
	assert.Nil(t, cal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceCalibration_NullCoefficient(t *testing.T) {
	db, mock, repo := setupMockCalibrationDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM device_calibrations`).
		WithArgs("D1A07CD4").
		WillReturnRows(sqlmock.NewRows(calibrationColumns).
			AddRow(true, -0.06, 0.65, nil, 1.4, nil))

	cal, err := repo.GetDeviceCalibration(context.Background(), "D1A07CD4")

	assert.ErrorIs(t, err, calibration.ErrIncompleteDocument)
	assert.Nil(t, cal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDeviceCalibration(t *testing.T) {
	db, mock, repo := setupMockCalibrationDB(t)
	defer db.Close()

	cal := &calibration.DeviceCalibration{SerialPrefix: "D1A07CD4", DriftRawPerSec: -0.06, GainRawPerPpm: 0.65, TauSec: 14.5, DeadSec: 1.4}
	mock.ExpectExec(`INSERT INTO device_calibrations`).
		WithArgs("D1A07CD4", -0.06, 0.65, 14.5, 1.4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveDeviceCalibration(context.Background(), cal))
	assert.Error(t, repo.SaveDeviceCalibration(context.Background(), &calibration.DeviceCalibration{SerialPrefix: "SHORT"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
