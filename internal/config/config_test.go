package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"xhale-breath/internal/analysis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "xhale/+/sensor", cfg.Breath.Topics.Sensor)
	assert.Equal(t, "xhale/+/command", cfg.Breath.Topics.Command)
	assert.Equal(t, "breath:analysis:stream", cfg.Breath.Stream.Output)
	assert.Empty(t, cfg.Breath.Stream.Input)
	assert.Equal(t, CalibrationSourcePostgres, cfg.Breath.Calibration.Source)
	assert.Equal(t, 20, cfg.Breath.WarmupSeconds)
	assert.Equal(t, 7, cfg.Breath.BaselineCaptureDelaySec)
	assert.Equal(t, 15, cfg.Breath.DefaultSampleDurationSec)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 10*time.Second, cfg.CalibrationTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MQTT_SENSOR_TOPIC", "lab/+/sensor")
	t.Setenv("SAMPLE_DURATION", "30")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("CALIBRATION_SOURCE", CalibrationSourceHTTP)
	t.Setenv("CALIBRATION_API_URL", "https://calibration.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "lab/+/sensor", cfg.Breath.Topics.Sensor)
	assert.Equal(t, 30, cfg.Breath.DefaultSampleDurationSec)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "https://calibration.example.com", cfg.Breath.Calibration.APIBaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown calibration source", map[string]string{"CALIBRATION_SOURCE": "s3"}},
		{"http without url", map[string]string{"CALIBRATION_SOURCE": CalibrationSourceHTTP}},
		{"zero sample duration", map[string]string{"SAMPLE_DURATION": "0"}},
		{"negative warm-up", map[string]string{"WARMUP_SECONDS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coefficients.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCoefficients_EmptyPath(t *testing.T) {
	coeffs, err := LoadCoefficients("")
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultAnalyzeCoefficients(), coeffs)
}

func TestLoadCoefficients_PartialOverride(t *testing.T) {
	path := writeFile(t, "temp_comp_raw_per_c = 0.85\nhuman_slope_raw_per_ppm = 3.4\n")

	coeffs, err := LoadCoefficients(path)
	require.NoError(t, err)

	assert.Equal(t, 0.85, coeffs.TempCompRawPerC)
	assert.Equal(t, 3.4, coeffs.HumanSlopeRawPerPpm)
	assert.Equal(t, 150.3, coeffs.VoltageCompRawPerV)
	assert.Equal(t, 2.0, coeffs.HumanPathTempRiseThresholdC)
}

func TestLoadCoefficients_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero human slope", "human_slope_raw_per_ppm = 0.0\n"},
		{"unknown key", "human_slop = 3.0\n"},
		{"malformed", "temp_comp_raw_per_c = \n"},
		{"non-finite", "voltage_comp_raw_per_v = nan\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCoefficients(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadCoefficients(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
