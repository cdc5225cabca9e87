package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MockSensor implements sensor.Source.
type MockSensor struct {
	mock.Mock
}

func (m *MockSensor) ReadTemperature(id int) (int64, error) {
	args := m.Called(id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSensor) Sensors() []int {
	args := m.Called()
	ret := args.Get(0)
	if ret == nil {
		return nil
	}
	return ret.([]int)
}

// MockPolicyHost implements thermal.PolicyHost.
type MockPolicyHost struct {
	mock.Mock
}

func (m *MockPolicyHost) OnlineUnits() ([]int, error) {
	args := m.Called()
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	return ret.([]int), args.Error(1)
}

func (m *MockPolicyHost) RequestPolicyReevaluation(unit int) error {
	return m.Called(unit).Error(0)
}

// NewTestLogger returns a development logger with the same encoder the daemon uses.
func NewTestLogger(t *testing.T) logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-5))
	zapLog, err := cfg.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = zapLog.Sync() })

	return zapr.NewLogger(zapLog)
}

// CPUFreqFiles describes the cpufreq pseudo-files created for a dummy CPU.
type CPUFreqFiles struct {
	CPUInfoMin uint
	CPUInfoMax uint
	ScalingMin uint
	ScalingMax uint
}

// SetupDummyCPUFreq creates <root>/cpuN/cpufreq/* files for every entry of cpus
// and returns root.
func SetupDummyCPUFreq(t *testing.T, cpus map[int]CPUFreqFiles) string {
	root := t.TempDir()
	for cpu, files := range cpus {
		dir := filepath.Join(root, fmt.Sprintf("cpu%d", cpu), "cpufreq")
		require.NoError(t, os.MkdirAll(dir, 0o755))

		for name, value := range map[string]uint{
			"cpuinfo_min_freq": files.CPUInfoMin,
			"cpuinfo_max_freq": files.CPUInfoMax,
			"scaling_min_freq": files.ScalingMin,
			"scaling_max_freq": files.ScalingMax,
		} {
			writeFile(t, filepath.Join(dir, name), strconv.FormatUint(uint64(value), 10)+"\n")
		}
	}

	return root
}

// SetupDummyThermalZones creates <root>/thermal_zoneN/temp files holding the
// given millidegree readings and returns root.
func SetupDummyThermalZones(t *testing.T, milliCelsius ...int64) string {
	root := t.TempDir()
	for zone, temp := range milliCelsius {
		dir := filepath.Join(root, fmt.Sprintf("thermal_zone%d", zone))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writeFile(t, filepath.Join(dir, "temp"), strconv.FormatInt(temp, 10)+"\n")
	}

	return root
}

// ReadUint reads a single unsigned value from a pseudo-file.
func ReadUint(t *testing.T, path string) uint {
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var value uint
	_, err = fmt.Sscanf(string(data), "%d", &value)
	require.NoError(t, err)

	return value
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
