package sensor

import (
	"fmt"

	"github.com/go-logr/logr"
)

// New creates a Source of the given kind. root is only used by thermal zones.
func New(kind, root string, log logr.Logger) (Source, error) {
	switch kind {
	case "", KindThermalZone:
		return NewThermalZoneSource(root, log.WithName(KindThermalZone)), nil
	case KindHwmon:
		return NewHwmonSource(log.WithName(KindHwmon)), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", kind)
	}
}
