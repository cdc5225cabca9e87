package monitoring

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

// TransitionMetrics counts committed ceiling changes per action.
type TransitionMetrics struct {
	transitions *prom.CounterVec
}

func NewTransitionMetrics(reg prom.Registerer) *TransitionMetrics {
	m := &TransitionMetrics{
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: governorSubsystem,
			Name:      "transitions_total",
			Help:      "Counter of committed frequency ceiling changes",
		}, []string{transitionLabelKey}),
	}
	reg.MustRegister(m.transitions)

	return m
}

func (m *TransitionMetrics) ObserveTransition(t thermal.Transition) {
	m.transitions.WithLabelValues(string(t.Action)).Inc()
}
