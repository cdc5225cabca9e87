package sensor

import (
	"errors"
	"fmt"
	"slices"
)

// MaxSensors bounds the sensor ids accepted at startup regardless of how many
// sensors the source reports.
const MaxSensors = 16

const (
	KindThermalZone = "thermal_zone"
	KindHwmon       = "hwmon"
)

var (
	// ErrInvalidSensor is returned at startup when the configured sensor id is
	// out of range. It is not recoverable.
	ErrInvalidSensor = errors.New("invalid sensor id")

	// ErrSensorMissing is returned when a sensor that was valid at startup can not
	// be read anymore. Callers treat it as a skipped sample.
	ErrSensorMissing = errors.New("sensor is missing")
)

// Source reads temperatures in degrees Celsius.
type Source interface {
	ReadTemperature(id int) (int64, error)
	// Sensors returns the ids the source currently exposes, in ascending order.
	// Ids are not necessarily contiguous.
	Sensors() []int
}

func ValidateSensorID(src Source, id int) error {
	if id < 0 || id >= MaxSensors {
		return fmt.Errorf("%w: %d is not in range [0, %d)", ErrInvalidSensor, id, MaxSensors)
	}
	if ids := src.Sensors(); !slices.Contains(ids, id) {
		return fmt.Errorf("%w: %d is not exposed by the source, available %v", ErrInvalidSensor, id, ids)
	}
	return nil
}
