package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AMDEPYC/thermal-governor/internal/thermal"
	"github.com/AMDEPYC/thermal-governor/pkg/testutils"
)

func openTestJournal(t *testing.T, path, runID string, opts ...Option) *Journal {
	j, err := Open(path, runID, testutils.NewTestLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	j := openTestJournal(t, filepath.Join(t.TempDir(), "journal.sqlite3"), "run-a", WithBatchSize(2))

	j.ObserveTransition(thermal.Transition{
		Time: start, Action: thermal.ActionThrottle, Temperature: 76, Threshold: 70,
		From: thermal.MaxCeiling, To: 1728000, HoldTime: 2 * time.Second,
	})
	j.ObserveTransition(thermal.Transition{
		Time: start.Add(time.Second), Action: thermal.ActionThrottle, Temperature: 90, Threshold: 70,
		From: 1728000, To: 729600, HoldTime: 4 * time.Second,
	})
	j.ObserveTransition(thermal.Transition{
		Time: start.Add(5 * time.Second), Action: thermal.ActionRelease, Temperature: 60, Threshold: 70,
		From: 729600, To: thermal.MaxCeiling,
	})

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, thermal.ActionRelease, entries[0].Action)
	assert.Equal(t, thermal.MaxCeiling, entries[0].To)
	assert.Equal(t, uint(729600), entries[0].From)
	assert.Equal(t, "run-a", entries[0].RunID)

	assert.Equal(t, uint(729600), entries[1].To)
	assert.Equal(t, 4*time.Second, entries[1].HoldTime)
	assert.Equal(t, int64(90), entries[1].Temperature)

	assert.Equal(t, thermal.MaxCeiling, entries[2].From)
	assert.True(t, start.Equal(entries[2].Time))
	assert.Greater(t, entries[0].ID, entries[2].ID)

	limited, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, entries[0].ID, limited[0].ID)

	none, err := j.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJournal_EntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.sqlite3")

	first, err := Open(path, "", testutils.NewTestLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID())
	first.ObserveTransition(thermal.Transition{Time: time.Now(), Action: thermal.ActionManual, To: 1190400})
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	assert.ErrorIs(t, first.Flush(), ErrClosed)
	_, err = first.Recent(1)
	assert.ErrorIs(t, err, ErrClosed)

	second := openTestJournal(t, path, "run-b")
	entries, err := second.Recent(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.RunID(), entries[0].RunID)
	assert.Equal(t, uint(1190400), entries[0].To)
}

func TestJournal_ObservesEngine(t *testing.T) {
	host := &testutils.MockPolicyHost{}
	host.On("OnlineUnits").Return([]int{0}, nil)
	host.On("RequestPolicyReevaluation", mock.Anything).Return(nil)

	j := openTestJournal(t, filepath.Join(t.TempDir(), "journal.sqlite3"), "engine")
	engine, err := thermal.NewEngine(thermal.NewThrottleState(), thermal.DefaultLevels(), thermal.NewThreshold(70),
		host, testutils.NewTestLogger(t), thermal.WithObserver(j))
	require.NoError(t, err)

	tick := 500 * time.Millisecond
	for _, temperature := range []int64{76, 68, 68, 68, 68} {
		engine.Evaluate(temperature, tick)
	}

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, thermal.ActionRelease, entries[0].Action)
	assert.Equal(t, thermal.ActionThrottle, entries[1].Action)
	assert.Equal(t, uint(1728000), entries[1].To)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", "", testutils.NewTestLogger(t))
	assert.Error(t, err)
}
