package thermal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelTable_Validate(t *testing.T) {
	for _, tc := range []struct {
		testCase string
		table    LevelTable
		valid    bool
	}{
		{
			testCase: "default table",
			table:    DefaultLevels(),
			valid:    true,
		},
		{
			testCase: "single catch-all level",
			table:    LevelTable{{Diff: 0, Freq: 1000000}},
			valid:    true,
		},
		{
			testCase: "empty table",
			table:    LevelTable{},
		},
		{
			testCase: "missing catch-all level",
			table:    LevelTable{{Diff: 10, Freq: 800000}, {Diff: 5, Freq: 1200000}},
		},
		{
			testCase: "diffs not strictly decreasing",
			table:    LevelTable{{Diff: 5, Freq: 800000}, {Diff: 5, Freq: 1200000}, {Diff: 0, Freq: 1500000}},
		},
		{
			testCase: "diffs ascending",
			table:    LevelTable{{Diff: 0, Freq: 800000}, {Diff: 5, Freq: 1200000}},
		},
		{
			testCase: "zero frequency",
			table:    LevelTable{{Diff: 0, Freq: 0}},
		},
		{
			testCase: "negative hold time",
			table:    LevelTable{{Diff: 0, Freq: 1000, HoldTime: -time.Second}},
		},
	} {
		t.Run(tc.testCase, func(t *testing.T) {
			err := tc.table.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidLevelTable)
			}
		})
	}
}

func TestLevelTable_Match(t *testing.T) {
	table := DefaultLevels()
	const baseline = 70

	for _, tc := range []struct {
		temperature int64
		matched     bool
		freq        uint
	}{
		{temperature: 60, matched: false},
		{temperature: 70, matched: false},
		{temperature: 71, matched: true, freq: 1958400},
		{temperature: 75, matched: true, freq: 1958400},
		{temperature: 76, matched: true, freq: 1728000},
		{temperature: 80, matched: true, freq: 1497600},
		{temperature: 83, matched: true, freq: 1190400},
		{temperature: 86, matched: true, freq: 729600},
		{temperature: 95, matched: true, freq: 729600},
	} {
		level, ok := table.Match(tc.temperature, baseline)
		assert.Equal(t, tc.matched, ok, "temperature %d", tc.temperature)
		if tc.matched {
			assert.Equal(t, tc.freq, level.Freq, "temperature %d", tc.temperature)
		}
	}
}

func TestLevelTable_MatchFirstInTableOrder(t *testing.T) {
	// every level matches 200 degrees, the first one listed wins
	table := LevelTable{
		{Diff: 20, Freq: 900000},
		{Diff: 10, Freq: 600000},
		{Diff: 0, Freq: 300000},
	}

	level, ok := table.Match(200, 70)
	assert.True(t, ok)
	assert.Equal(t, uint(900000), level.Freq)
}
