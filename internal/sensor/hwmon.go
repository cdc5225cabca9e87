package sensor

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/host"
)

// Func definitions for unit testing
var (
	sensorsTemperaturesFunc = host.SensorsTemperatures
)

// HwmonSource reads hwmon sensors through gopsutil. Sensor id N is the N-th
// sensor ordered by sensor key, so ids stay stable across samples.
type HwmonSource struct {
	log logr.Logger
}

func NewHwmonSource(log logr.Logger) *HwmonSource {
	return &HwmonSource{log: log}
}

// Sensors returns 0..n-1 for the n sensors currently reported.
func (s *HwmonSource) Sensors() []int {
	temps, err := s.readings()
	if err != nil {
		return nil
	}

	ids := make([]int, len(temps))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (s *HwmonSource) ReadTemperature(id int) (int64, error) {
	temps, err := s.readings()
	if err != nil {
		return 0, err
	}
	if id < 0 || id >= len(temps) {
		return 0, fmt.Errorf("%w: hwmon sensor %d, %d available", ErrSensorMissing, id, len(temps))
	}

	return int64(temps[id].Temperature), nil
}

// Keys lists the sensor keys in id order.
func (s *HwmonSource) Keys() []string {
	temps, err := s.readings()
	if err != nil {
		return nil
	}

	keys := make([]string, 0, len(temps))
	for _, temp := range temps {
		keys = append(keys, temp.SensorKey)
	}
	return keys
}

func (s *HwmonSource) readings() ([]host.TemperatureStat, error) {
	temps, err := sensorsTemperaturesFunc()
	if err != nil {
		// gopsutil reports unreadable entries as warnings next to the readable ones
		if len(temps) == 0 {
			return nil, fmt.Errorf("failed to read hwmon sensors: %w", err)
		}
		s.log.V(5).Info(fmt.Sprintf("partial hwmon readings, err: %v", err))
	}

	sort.SliceStable(temps, func(i, j int) bool {
		return temps[i].SensorKey < temps[j].SensorKey
	})
	return temps, nil
}
