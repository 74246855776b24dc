package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"xhale-breath/internal/calibration"
	"xhale-breath/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupImport(t *testing.T, document string) (sqlmock.Sqlmock, *repository.CalibrationRepository, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	path := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o600))
	return mock, repository.NewCalibrationRepository(db, zap.NewNop()), path
}

func TestImportDocument(t *testing.T) {
	mock, repo, path := setupImport(t, `{"a_drift_raw_per_s":-0.06,"G_raw_per_ppm":0.65,"tau_s":14.5,"dead_s":1.4}`)
	mock.ExpectExec(`INSERT INTO device_calibrations`).
		WithArgs("D1A07CD4", -0.06, 0.65, 14.5, 1.4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, importDocument(context.Background(), repo, "d1a0-7cd4-0001", path))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportDocument_Rejects(t *testing.T) {
	ctx := context.Background()

	_, repo, path := setupImport(t, `{"enabled":false}`)
	err := importDocument(ctx, repo, "D1A07CD4", path)
	assert.ErrorContains(t, err, "disabled")

	_, repo, path = setupImport(t, `{"G_raw_per_ppm":0.65}`)
	err = importDocument(ctx, repo, "D1A07CD4", path)
	assert.ErrorIs(t, err, calibration.ErrIncompleteDocument)

	_, repo, path = setupImport(t, `{}`)
	assert.Error(t, importDocument(ctx, repo, "ab-12", path))
	assert.Error(t, importDocument(ctx, repo, "D1A07CD4", filepath.Join(t.TempDir(), "missing.json")))
}
