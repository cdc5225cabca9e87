package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMDEPYC/thermal-governor/internal/sensor"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, thermal.DefaultLevels(), cfg.LevelTable())
	assert.Equal(t, int64(70), cfg.Threshold)
	assert.Equal(t, 500*time.Millisecond, cfg.SamplePeriod)
	assert.Equal(t, sensor.KindThermalZone, cfg.Sensor.Source)

	opts := cfg.GovernorOpts()
	assert.Equal(t, 0, opts.SensorID)
	assert.Equal(t, 50*time.Millisecond, opts.StartDelay)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "thermald.yaml", `
sensor:
  source: hwmon
  id: 3
threshold: 65
samplePeriod: 250ms
levels:
  - {diff: 10, freq: 1000000, holdTime: 5s}
  - {diff: 0, freq: 1500000, holdTime: 1s}
journal: /var/lib/thermald/journal.sqlite3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, sensor.KindHwmon, cfg.Sensor.Source)
	assert.Equal(t, 3, cfg.Sensor.ID)
	assert.Equal(t, int64(65), cfg.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.SamplePeriod)
	assert.Equal(t, "/var/lib/thermald/journal.sqlite3", cfg.Journal)
	assert.Equal(t, thermal.LevelTable{
		{Diff: 10, Freq: 1000000, HoldTime: 5 * time.Second},
		{Diff: 0, Freq: 1500000, HoldTime: time.Second},
	}, cfg.LevelTable())
	// untouched fields keep their defaults
	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, 50*time.Millisecond, cfg.StartDelay)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "thermald.yaml", "threshold: 65\n")
	t.Setenv(EnvThreshold, "80")
	t.Setenv(EnvSamplePeriod, "1s")
	t.Setenv(EnvListenAddress, ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(80), cfg.Threshold)
	assert.Equal(t, time.Second, cfg.SamplePeriod)
	assert.Equal(t, ":9999", cfg.ListenAddress)
}

func TestLoad_EnvFile(t *testing.T) {
	// godotenv never overrides variables that are already set
	t.Setenv(EnvSensorID, "2")
	envFile := writeFile(t, "thermald.env", "THERMALD_SENSOR_ID=5\nTHERMALD_JOURNAL=/tmp/journal.sqlite3\n")
	t.Cleanup(func() { _ = os.Unsetenv(EnvJournal) })

	cfg, err := Load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Sensor.ID)
	assert.Equal(t, "/tmp/journal.sqlite3", cfg.Journal)
}

func TestLoad_Errors(t *testing.T) {
	tcases := []struct {
		testCase string
		content  string
		env      map[string]string
	}{
		{
			testCase: "Test Case 1 - unknown field",
			content:  "thresold: 60\n",
		},
		{
			testCase: "Test Case 2 - unknown sensor source",
			content:  "sensor: {source: tsens}\n",
		},
		{
			testCase: "Test Case 3 - sensor id out of range",
			content:  "sensor: {id: 16}\n",
		},
		{
			testCase: "Test Case 4 - level table without catch-all",
			content:  "levels: [{diff: 5, freq: 1000000, holdTime: 1s}]\n",
		},
		{
			testCase: "Test Case 5 - zero sample period",
			content:  "samplePeriod: 0s\n",
		},
		{
			testCase: "Test Case 6 - malformed env threshold",
			env:      map[string]string{EnvThreshold: "hot"},
		},
		{
			testCase: "Test Case 7 - malformed env period",
			env:      map[string]string{EnvSamplePeriod: "500"},
		},
		{
			testCase: "Test Case 8 - log level out of range",
			env:      map[string]string{EnvLogLevel: "9"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.testCase, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, "thermald.yaml", tc.content)

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Sensor.Source = "tsens"
	cfg.SamplePeriod = 0
	cfg.Levels = nil

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, thermal.ErrInvalidLevelTable)
	assert.ErrorContains(t, err, "tsens")
	assert.ErrorContains(t, err, "sample period")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
