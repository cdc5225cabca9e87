package thermal

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLevelTable is returned when a level table cannot be used by the Engine.
var ErrInvalidLevelTable = errors.New("invalid thermal level table")

// ThermalLevel maps a band above the baseline threshold to a frequency ceiling.
type ThermalLevel struct {
	// Degrees above the baseline threshold that activate this level
	Diff uint `json:"diff"`
	// Frequency ceiling in kHz
	Freq uint `json:"freq"`
	// Minimum time the ceiling is held before it may be relaxed
	HoldTime time.Duration `json:"holdTime"`
}

// LevelTable is scanned in order and the first matching level wins. Diffs
// strictly decrease down to the catch-all level with Diff 0.
type LevelTable []ThermalLevel

func DefaultLevels() LevelTable {
	return LevelTable{
		{Diff: 15, Freq: 729600, HoldTime: 4000 * time.Millisecond},
		{Diff: 12, Freq: 1190400, HoldTime: 3000 * time.Millisecond},
		{Diff: 9, Freq: 1497600, HoldTime: 3000 * time.Millisecond},
		{Diff: 5, Freq: 1728000, HoldTime: 2000 * time.Millisecond},
		{Diff: 0, Freq: 1958400, HoldTime: 2000 * time.Millisecond},
	}
}

func (t LevelTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: no levels configured", ErrInvalidLevelTable)
	}

	for i, level := range t {
		if level.Freq == 0 {
			return fmt.Errorf("%w: level %d has zero frequency", ErrInvalidLevelTable, i)
		}
		if level.HoldTime < 0 {
			return fmt.Errorf("%w: level %d has negative hold time", ErrInvalidLevelTable, i)
		}
		if i > 0 && level.Diff >= t[i-1].Diff {
			return fmt.Errorf("%w: diff of level %d (%d) must be lower than diff of level %d (%d)",
				ErrInvalidLevelTable, i, level.Diff, i-1, t[i-1].Diff)
		}
	}

	// diffs are strictly decreasing so only the last level can be the catch-all
	if last := t[len(t)-1]; last.Diff != 0 {
		return fmt.Errorf("%w: last level must have diff 0, got %d", ErrInvalidLevelTable, last.Diff)
	}

	return nil
}

// Match returns the first level, in table order, whose band the temperature exceeds.
// The scan stops at the first hit, so a reading that also exceeds more severe
// levels still selects the least severe one that applies.
func (t LevelTable) Match(temperature, baseline int64) (ThermalLevel, bool) {
	for _, level := range t {
		if temperature > baseline+int64(level.Diff) {
			return level, true
		}
	}

	return ThermalLevel{}, false
}
