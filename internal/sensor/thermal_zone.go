package sensor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

const DefaultThermalRoot = "/sys/class/thermal"

// Func definitions for unit testing
var (
	newZoneReaderFunc = newZoneReader
)

// ThermalZoneSource reads /sys/class/thermal/thermal_zoneN/temp. Sensor id N is
// the zone number. File handles are opened on first use and kept until Close.
type ThermalZoneSource struct {
	root string
	log  logr.Logger

	mu      sync.Mutex
	readers map[int]zoneReader
}

func NewThermalZoneSource(root string, log logr.Logger) *ThermalZoneSource {
	if root == "" {
		root = DefaultThermalRoot
	}

	return &ThermalZoneSource{
		root:    root,
		log:     log.WithValues("root", root),
		readers: make(map[int]zoneReader),
	}
}

// Sensors lists the numbers of the zones that have a temp file. Zone numbers
// can have gaps, e.g. when a zone driver failed to load.
func (s *ThermalZoneSource) Sensors() []int {
	dirs, err := filepath.Glob(filepath.Join(s.root, zoneDirPrefix+"*"))
	if err != nil {
		return nil
	}

	zones := make([]int, 0, len(dirs))
	for _, dir := range dirs {
		zone, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), zoneDirPrefix))
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, zoneTempFilename)); err != nil {
			s.log.V(5).Info("skipping zone without temperature", "zone", zone)
			continue
		}
		zones = append(zones, zone)
	}
	slices.Sort(zones)

	return zones
}

func (s *ThermalZoneSource) ReadTemperature(id int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reader, ok := s.readers[id]
	if !ok {
		var err error
		reader, err = newZoneReaderFunc(s.root, id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return 0, fmt.Errorf("%w: %w", ErrSensorMissing, err)
			}
			return 0, err
		}
		s.readers[id] = reader
		s.log.V(4).Info("opened thermal zone", "zone", id)
	}

	milliCelsius, err := reader.read()
	if err != nil {
		// drop the handle so the next sample reopens the file
		if cerr := reader.close(); cerr != nil {
			s.log.V(5).Info(fmt.Sprintf("error while closing reader, err: %v", cerr), "zone", id)
		}
		delete(s.readers, id)
		return 0, err
	}

	return milliCelsius / 1000, nil
}

func (s *ThermalZoneSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for zone, reader := range s.readers {
		if err := reader.close(); err != nil {
			s.log.V(5).Info(fmt.Sprintf("error while closing reader, err: %v", err), "zone", zone)
		}
	}
	s.readers = make(map[int]zoneReader)
}
