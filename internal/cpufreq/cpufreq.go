package cpufreq

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

const (
	DefaultCPURoot = "/sys/devices/system/cpu"

	cpuFreqDir = "cpu%d/cpufreq"

	cpuInfoMinFreq = "cpuinfo_min_freq"
	cpuInfoMaxFreq = "cpuinfo_max_freq"
	scalingMinFreq = "scaling_min_freq"
	scalingMaxFreq = "scaling_max_freq"
)

func getCPUFreqPath(root string, cpu int, resource string) string {
	return filepath.Join(root, fmt.Sprintf(cpuFreqDir, cpu), resource)
}

var getCPUFreqPathFunction = getCPUFreqPath

// readFrequency returns the value in kHz stored in a cpufreq attribute.
func readFrequency(root string, cpu int, resource string) (uint, error) {
	path := getCPUFreqPathFunction(root, cpu, resource)

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s for CPU %d: %w", resource, cpu, err)
	}

	freq, err := parseUnsigned[uint](strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s for CPU %d to uint: %w", resource, cpu, err)
	}

	return freq, nil
}

// writeFrequency stores the value in kHz into a cpufreq attribute.
func writeFrequency(root string, cpu int, resource string, frequency uint) error {
	path := getCPUFreqPathFunction(root, cpu, resource)

	// cpufreq attributes can only be written, never created
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s for CPU %d: %w", resource, cpu, err)
	}
	defer file.Close()

	if _, err := file.WriteString(strconv.FormatUint(uint64(frequency), 10)); err != nil {
		return fmt.Errorf("failed to set %s for CPU %d: %w", resource, cpu, err)
	}

	return nil
}

func parseUnsigned[T constraints.Unsigned](s string) (T, error) {
	var zero T
	value, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return zero, err
	}
	if uint64(T(value)) != value {
		return zero, fmt.Errorf("value %d overflows", value)
	}
	return T(value), nil
}
