package thermal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AMDEPYC/thermal-governor/pkg/testutils"
)

const tick = 500 * time.Millisecond

type observerMock struct {
	mock.Mock
}

func (o *observerMock) ObserveTransition(t Transition) {
	o.Called(t)
}

func newTestHost(units ...int) *testutils.MockPolicyHost {
	host := &testutils.MockPolicyHost{}
	host.On("OnlineUnits").Return(units, nil)
	for _, unit := range units {
		host.On("RequestPolicyReevaluation", unit).Return(nil)
	}
	return host
}

func newTestEngine(t *testing.T, host PolicyHost, opts ...EngineOption) *Engine {
	engine, err := NewEngine(NewThrottleState(), DefaultLevels(), NewThreshold(70), host,
		testutils.NewTestLogger(t), opts...)
	require.NoError(t, err)
	return engine
}

func TestNewEngine_InvalidTable(t *testing.T) {
	_, err := NewEngine(NewThrottleState(), LevelTable{{Diff: 5, Freq: 1000}}, NewThreshold(70),
		newTestHost(), testutils.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrInvalidLevelTable)

	_, err = NewEngine(NewThrottleState(), DefaultLevels(), nil, newTestHost(), testutils.NewTestLogger(t))
	assert.Error(t, err)
}

func TestEngine_ReferenceScenario(t *testing.T) {
	host := newTestHost(0, 1)
	engine := newTestEngine(t, host)

	decision := engine.Evaluate(76, tick)
	assert.Equal(t, ActionThrottle, decision.Action)
	assert.True(t, decision.Changed)
	require.NotNil(t, decision.Level)
	assert.Equal(t, uint(5), decision.Level.Diff)
	assert.Equal(t, StateSnapshot{
		Ceiling:    1728000,
		TimeLeft:   2000 * time.Millisecond,
		Throttling: true,
	}, engine.State().Snapshot())
	host.AssertNumberOfCalls(t, "RequestPolicyReevaluation", 2)

	// temperature recovered but the hold time keeps the ceiling for three more ticks
	for i, expectedLeft := range []time.Duration{1500, 1000, 500} {
		decision = engine.Evaluate(68, tick)
		assert.Equal(t, ActionRelease, decision.Action, "tick %d", i)
		assert.False(t, decision.Changed, "tick %d", i)
		snapshot := engine.State().Snapshot()
		assert.Equal(t, uint(1728000), snapshot.Ceiling, "tick %d", i)
		assert.Equal(t, expectedLeft*time.Millisecond, snapshot.TimeLeft, "tick %d", i)
		assert.True(t, snapshot.Throttling, "tick %d", i)
	}

	decision = engine.Evaluate(68, tick)
	assert.Equal(t, ActionRelease, decision.Action)
	assert.True(t, decision.Changed)
	assert.Equal(t, StateSnapshot{Ceiling: MaxCeiling}, engine.State().Snapshot())
	host.AssertNumberOfCalls(t, "RequestPolicyReevaluation", 4)
}

func TestEngine_FirstMatchWinsOnFreshState(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))

	decision := engine.Evaluate(95, tick)
	assert.True(t, decision.Changed)
	snapshot := engine.State().Snapshot()
	assert.Equal(t, uint(729600), snapshot.Ceiling)
	assert.Equal(t, 4000*time.Millisecond, snapshot.TimeLeft)
	assert.True(t, snapshot.Throttling)
}

func TestEngine_NoActionWhenNormal(t *testing.T) {
	host := newTestHost(0)
	engine := newTestEngine(t, host)

	for _, temperature := range []int64{20, 69, 70} {
		decision := engine.Evaluate(temperature, tick)
		assert.Equal(t, ActionNone, decision.Action)
		assert.False(t, decision.Changed)
	}
	assert.Equal(t, StateSnapshot{Ceiling: MaxCeiling}, engine.State().Snapshot())
	host.AssertNotCalled(t, "OnlineUnits")
}

func TestEngine_ThrottlingAtBaselineKeepsCeiling(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))
	engine.Evaluate(72, tick)

	// equal to the baseline: no release, no level
	decision := engine.Evaluate(70, tick)
	assert.Equal(t, ActionNone, decision.Action)
	snapshot := engine.State().Snapshot()
	assert.True(t, snapshot.Throttling)
	assert.Equal(t, uint(1958400), snapshot.Ceiling)
	assert.Equal(t, 1500*time.Millisecond, snapshot.TimeLeft)
}

func TestEngine_Lockout(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))

	// most severe level, held for 4s
	require.True(t, engine.Evaluate(90, tick).Changed)

	// a less severe level may not relax the ceiling while time is left
	elapsed := time.Duration(0)
	for elapsed+tick < 4000*time.Millisecond {
		decision := engine.Evaluate(76, tick)
		elapsed += tick
		assert.False(t, decision.Changed, "elapsed %s", elapsed)
		assert.Equal(t, uint(729600), engine.State().Ceiling(), "elapsed %s", elapsed)
	}

	decision := engine.Evaluate(76, tick)
	assert.True(t, decision.Changed)
	assert.Equal(t, uint(1728000), engine.State().Ceiling())
}

func TestEngine_TighteningIgnoresLockout(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))

	require.True(t, engine.Evaluate(72, tick).Changed)
	assert.Equal(t, 2000*time.Millisecond, engine.State().Snapshot().TimeLeft)

	decision := engine.Evaluate(90, tick)
	assert.True(t, decision.Changed)
	snapshot := engine.State().Snapshot()
	assert.Equal(t, uint(729600), snapshot.Ceiling)
	assert.Equal(t, 4000*time.Millisecond, snapshot.TimeLeft)
}

func TestEngine_ApplyCeilingIdempotent(t *testing.T) {
	host := newTestHost(0)
	engine := newTestEngine(t, host)

	require.True(t, engine.ApplyCeiling(1497600, 3*time.Second, 0))
	assert.False(t, engine.ApplyCeiling(1497600, 10*time.Second, tick))

	snapshot := engine.State().Snapshot()
	assert.Equal(t, uint(1497600), snapshot.Ceiling)
	assert.Equal(t, 2500*time.Millisecond, snapshot.TimeLeft, "same ceiling must not reset the hold time")
	host.AssertNumberOfCalls(t, "RequestPolicyReevaluation", 1)
}

func TestEngine_ApplyCeilingRelaxAfterHold(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))

	require.True(t, engine.ApplyCeiling(1000000, time.Second, 0))
	assert.False(t, engine.ApplyCeiling(1500000, 0, 999*time.Millisecond))
	assert.True(t, engine.ApplyCeiling(1500000, 0, time.Millisecond))
	assert.Equal(t, uint(1500000), engine.State().Ceiling())
}

func TestEngine_CountdownNeverNegative(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))
	require.True(t, engine.Evaluate(72, tick).Changed)

	for _, elapsed := range []time.Duration{700 * time.Millisecond, 3 * time.Second, -time.Second, time.Hour} {
		engine.Evaluate(70, elapsed)
		assert.GreaterOrEqual(t, engine.State().Snapshot().TimeLeft, time.Duration(0))
	}
	assert.Equal(t, time.Duration(0), engine.State().Snapshot().TimeLeft)
}

func TestEngine_CountdownReachesZeroExactly(t *testing.T) {
	engine := newTestEngine(t, newTestHost(0))
	require.True(t, engine.ApplyCeiling(1000000, 1300*time.Millisecond, 0))

	for _, expected := range []time.Duration{800, 300, 0, 0} {
		engine.Evaluate(70, tick)
		assert.Equal(t, expected*time.Millisecond, engine.State().Snapshot().TimeLeft)
	}
}

func TestEngine_PropagationSkipsOfflineUnits(t *testing.T) {
	host := &testutils.MockPolicyHost{}
	host.On("OnlineUnits").Return([]int{0, 1, 2, 3}, nil)
	host.On("RequestPolicyReevaluation", 0).Return(nil)
	host.On("RequestPolicyReevaluation", 1).Return(ErrUnitOffline)
	host.On("RequestPolicyReevaluation", 2).Return(errors.New("write failed"))
	host.On("RequestPolicyReevaluation", 3).Return(nil)
	engine := newTestEngine(t, host)

	assert.True(t, engine.Evaluate(80, tick).Changed)
	assert.Equal(t, uint(1497600), engine.State().Ceiling())
	for _, unit := range []int{0, 1, 2, 3} {
		host.AssertCalled(t, "RequestPolicyReevaluation", unit)
	}
	assert.False(t, engine.State().Snapshot().ChangeInProgress)
}

func TestEngine_PropagationListFailureKeepsCeiling(t *testing.T) {
	host := &testutils.MockPolicyHost{}
	host.On("OnlineUnits").Return(nil, errors.New("no cpus"))
	engine := newTestEngine(t, host)

	assert.True(t, engine.Evaluate(80, tick).Changed)
	assert.Equal(t, uint(1497600), engine.State().Ceiling())
	host.AssertNotCalled(t, "RequestPolicyReevaluation", mock.Anything)
}

func TestEngine_ChangeInProgressDuringPropagation(t *testing.T) {
	state := NewThrottleState()
	enforcer := NewPolicyEnforcer(state)
	host := &testutils.MockPolicyHost{}
	host.On("OnlineUnits").Return([]int{0}, nil)
	host.On("RequestPolicyReevaluation", 0).Run(func(mock.Arguments) {
		// the host sees the committed ceiling while the change is being propagated
		assert.True(t, state.Snapshot().ChangeInProgress)
		assert.Equal(t, uint(1190400), enforcer.Clamp(Policy{Min: 300000, Max: 2000000}, 300000, 2000000).Max)
	}).Return(nil)

	engine, err := NewEngine(state, DefaultLevels(), NewThreshold(70), host, testutils.NewTestLogger(t))
	require.NoError(t, err)

	assert.True(t, engine.Evaluate(83, tick).Changed)
	assert.False(t, state.Snapshot().ChangeInProgress)
}

func TestEngine_ThresholdChangeAtRuntime(t *testing.T) {
	threshold := NewThreshold(70)
	engine, err := NewEngine(NewThrottleState(), DefaultLevels(), threshold, newTestHost(0),
		testutils.NewTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, ActionNone, engine.Evaluate(70, tick).Action)
	threshold.Set(55)
	decision := engine.Evaluate(75, tick)
	assert.Equal(t, ActionThrottle, decision.Action)
	assert.Equal(t, uint(729600), engine.State().Ceiling())
}

func TestEngine_Observers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	observer := &observerMock{}
	observer.On("ObserveTransition", mock.Anything).Return()
	engine := newTestEngine(t, newTestHost(0), WithObserver(observer), WithClock(func() time.Time { return now }))

	engine.Evaluate(76, tick)
	engine.Evaluate(76, tick)
	for i := 0; i < 4; i++ {
		engine.Evaluate(60, tick)
	}

	observer.AssertNumberOfCalls(t, "ObserveTransition", 2)
	observer.AssertCalled(t, "ObserveTransition", Transition{
		Time:        now,
		Action:      ActionThrottle,
		Temperature: 76,
		Threshold:   70,
		From:        MaxCeiling,
		To:          1728000,
		HoldTime:    2 * time.Second,
	})
	observer.AssertCalled(t, "ObserveTransition", Transition{
		Time:        now,
		Action:      ActionRelease,
		Temperature: 60,
		Threshold:   70,
		From:        1728000,
		To:          MaxCeiling,
	})
}

func TestEngine_Reassert(t *testing.T) {
	host := newTestHost(0, 1)
	engine := newTestEngine(t, host)

	engine.Reassert()
	host.AssertNumberOfCalls(t, "RequestPolicyReevaluation", 2)
	assert.Equal(t, MaxCeiling, engine.State().Ceiling())
}
