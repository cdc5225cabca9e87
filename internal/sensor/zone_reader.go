package sensor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	zoneDirPrefix     string = "thermal_zone"
	zoneTempFilename  string = "temp"
	zoneReaderBufSize int    = 32
)

type zoneReader interface {
	read() (int64, error)
	close() error
}

type zoneReaderImpl struct {
	zone int
	file *os.File
}

func newZoneReader(root string, zone int) (zoneReader, error) {
	file, err := os.OpenFile(
		filepath.Join(root, zoneDirPrefix+strconv.Itoa(zone), zoneTempFilename),
		os.O_RDONLY,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open temperature file for zone %d: %w", zone, err)
	}

	return &zoneReaderImpl{zone: zone, file: file}, nil
}

// read returns the zone temperature in millidegrees Celsius.
func (z *zoneReaderImpl) read() (int64, error) {
	buf := make([]byte, zoneReaderBufSize)
	n, err := z.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read temperature file for zone %d: %w", z.zone, err)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(buf[:n])), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse temperature of zone %d: %w", z.zone, err)
	}

	return value, nil
}

func (z *zoneReaderImpl) close() error {
	return z.file.Close()
}
