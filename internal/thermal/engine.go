// Package thermal holds the decision logic of the thermal governor: the level
// table, the throttle state, the decision engine and the policy enforcer.
package thermal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

type Action string

const (
	ActionNone     Action = "none"
	ActionThrottle Action = "throttle"
	ActionRelease  Action = "release"
	ActionManual   Action = "manual"
)

// Decision is the outcome of a single Evaluate call.
type Decision struct {
	Action  Action
	Level   *ThermalLevel
	Changed bool
}

// Engine decides, from a temperature sample and the elapsed time, whether the
// frequency ceiling has to change. Evaluations are serialized.
type Engine struct {
	state     *ThrottleState
	levels    LevelTable
	threshold *Threshold
	host      PolicyHost
	observers []TransitionObserver
	log       logr.Logger
	now       func() time.Time

	evalMu sync.Mutex
}

type EngineOption func(*Engine)

func WithObserver(observer TransitionObserver) EngineOption {
	return func(e *Engine) {
		e.observers = append(e.observers, observer)
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(
	state *ThrottleState,
	levels LevelTable,
	threshold *Threshold,
	host PolicyHost,
	log logr.Logger,
	opts ...EngineOption,
) (*Engine, error) {
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	if state == nil || threshold == nil || host == nil {
		return nil, fmt.Errorf("engine requires state, threshold and policy host")
	}

	e := &Engine{
		state:     state,
		levels:    append(LevelTable(nil), levels...),
		threshold: threshold,
		host:      host,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

func (e *Engine) Levels() LevelTable {
	return append(LevelTable(nil), e.levels...)
}

func (e *Engine) State() *ThrottleState {
	return e.state
}

// Evaluate runs one step of the control loop for the given sample.
func (e *Engine) Evaluate(temperature int64, elapsed time.Duration) Decision {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.state.countdown(elapsed)
	baseline := e.threshold.Get()
	logger := e.log.WithValues("temperature", temperature, "threshold", baseline)

	if e.state.isThrottling() && temperature < baseline {
		changed := e.apply(MaxCeiling, 0, Transition{
			Action:      ActionRelease,
			Temperature: temperature,
			Threshold:   baseline,
		})
		if changed {
			e.state.setThrottling(false)
			logger.Info("temperature back in range, ceiling released")
		} else {
			logger.V(4).Info("release deferred, hold time not elapsed",
				"timeLeft", e.state.Snapshot().TimeLeft)
		}
		return Decision{Action: ActionRelease, Changed: changed}
	}

	level, ok := e.levels.Match(temperature, baseline)
	if !ok {
		logger.V(5).Info("no thermal level matched")
		return Decision{Action: ActionNone}
	}

	changed := e.apply(level.Freq, level.HoldTime, Transition{
		Action:      ActionThrottle,
		Temperature: temperature,
		Threshold:   baseline,
	})
	e.state.setThrottling(true)
	if changed {
		logger.Info("throttling", "diff", level.Diff, "ceiling", level.Freq, "holdTime", level.HoldTime)
	} else {
		logger.V(4).Info("ceiling unchanged", "diff", level.Diff, "requested", level.Freq,
			"ceiling", e.state.Ceiling())
	}

	return Decision{Action: ActionThrottle, Level: &level, Changed: changed}
}

// ApplyCeiling counts down the hold time by elapsed and then tries to set a new
// ceiling. Relaxing the ceiling is refused until the hold time of the previous
// one has run out; tightening is always accepted. It reports whether the
// ceiling changed.
func (e *Engine) ApplyCeiling(freq uint, hold, elapsed time.Duration) bool {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.state.countdown(elapsed)
	return e.apply(freq, hold, Transition{
		Action:    ActionManual,
		Threshold: e.threshold.Get(),
	})
}

// Reassert asks the host to re-evaluate the policy of every online unit
// without changing the ceiling.
func (e *Engine) Reassert() {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.propagate()
}

func (e *Engine) apply(freq uint, hold time.Duration, transition Transition) bool {
	prev, ok := e.state.tryCommit(freq, hold)
	if !ok {
		return false
	}

	e.propagate()
	e.state.finishChange()

	transition.Time = e.now()
	transition.From = prev
	transition.To = freq
	transition.HoldTime = hold
	for _, observer := range e.observers {
		observer.ObserveTransition(transition)
	}

	return true
}

func (e *Engine) propagate() {
	units, err := e.host.OnlineUnits()
	if err != nil {
		e.log.Error(err, "failed to list online units, policy not re-evaluated")
		return
	}

	for _, unit := range units {
		if err := e.host.RequestPolicyReevaluation(unit); err != nil {
			if errors.Is(err, ErrUnitOffline) {
				e.log.V(5).Info("unit went offline, skipping", "unit", unit)
				continue
			}
			e.log.Error(err, "failed to re-evaluate policy", "unit", unit)
			continue
		}
		e.log.V(5).Info("policy re-evaluated", "unit", unit)
	}
}
