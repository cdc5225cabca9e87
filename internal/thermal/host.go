package thermal

import (
	"errors"
	"time"
)

// ErrUnitOffline is returned by a PolicyHost when a processing unit disappeared
// between listing the online units and re-evaluating its policy.
var ErrUnitOffline = errors.New("processing unit is offline")

// PolicyHost is the frequency subsystem the Engine pushes ceiling changes to.
type PolicyHost interface {
	// OnlineUnits returns a snapshot of the processing units currently online.
	OnlineUnits() ([]int, error)
	// RequestPolicyReevaluation makes the host re-run policy evaluation for unit,
	// which in turn consults the PolicyEnforcer.
	RequestPolicyReevaluation(unit int) error
}

// Transition describes a committed ceiling change.
type Transition struct {
	Time        time.Time     `json:"time"`
	Action      Action        `json:"action"`
	Temperature int64         `json:"temperature"`
	Threshold   int64         `json:"threshold"`
	From        uint          `json:"from"`
	To          uint          `json:"to"`
	HoldTime    time.Duration `json:"holdTime"`
}

// TransitionObserver is notified after every committed ceiling change.
// Implementations are called while the Engine holds its evaluation lock and
// must not call back into the Engine.
type TransitionObserver interface {
	ObserveTransition(t Transition)
}
