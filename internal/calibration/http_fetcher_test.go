package calibration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCalibrationServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/calibrations/D1A07CD4", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a_drift_raw_per_s":-0.06,"G_raw_per_ppm":0.65,"tau_s":14.5,"dead_s":1.4}`))
	})
	mux.HandleFunc("/calibrations/INCOMPLT", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"G_raw_per_ppm":0.65}`))
	})
	mux.HandleFunc("/calibrations/BROKEN00", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPFetcher_FetchCalibration(t *testing.T) {
	server := newCalibrationServer(t)
	fetcher := NewHTTPFetcher(server.URL, "token-1", 2*time.Second, zap.NewNop())

	cal, err := fetcher.FetchCalibration(context.Background(), "D1A07CD4")
	require.NoError(t, err)
	require.NotNil(t, cal)
	assert.Equal(t, 0.65, cal.GainRawPerPpm)
	assert.Equal(t, 1.4, cal.DeadSec)
}

func TestHTTPFetcher_NotFoundIsAbsent(t *testing.T) {
	server := newCalibrationServer(t)
	fetcher := NewHTTPFetcher(server.URL, "", 2*time.Second, zap.NewNop())

	cal, err := fetcher.FetchCalibration(context.Background(), "ZZZZZZZZ")
	assert.NoError(t, err)
	assert.Nil(t, cal)
}

func TestHTTPFetcher_Errors(t *testing.T) {
	server := newCalibrationServer(t)
	fetcher := NewHTTPFetcher(server.URL, "", 2*time.Second, zap.NewNop())

	_, err := fetcher.FetchCalibration(context.Background(), "INCOMPLT")
	assert.ErrorIs(t, err, ErrIncompleteDocument)

	_, err = fetcher.FetchCalibration(context.Background(), "BROKEN00")
	assert.Error(t, err)
}
