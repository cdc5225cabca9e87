package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/thermal-governor/internal/sensor"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

// Evaluator is the part of thermal.Engine driven by the scheduler loop.
type Evaluator interface {
	Evaluate(temperature int64, elapsed time.Duration) thermal.Decision
	Reassert()
}

type Updater interface {
	Update(opts *Opts)
	Stats() Stats
}

type updaterImpl struct {
	sensor sensor.Source
	engine Evaluator
	log    logr.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats Stats
}

func NewUpdater(src sensor.Source, engine Evaluator, log logr.Logger) Updater {
	return &updaterImpl{
		sensor: src,
		engine: engine,
		log:    log,
		now:    time.Now,
	}
}

// Update runs one tick: sample, decide, then make sure every online unit
// carries the current ceiling. A failed sample skips the decision only; the
// time it covered is credited to the next successful sample.
func (u *updaterImpl) Update(opts *Opts) {
	now := u.now()

	temperature, err := u.sensor.ReadTemperature(opts.SensorID)
	if err != nil {
		u.log.V(4).Info(fmt.Sprintf("skipping sample, err: %v", err), "sensor", opts.SensorID)
		u.engine.Reassert()
		u.record(func(s *Stats) {
			s.Ticks++
			s.SkippedSamples++
			s.LastTick = now
		})
		return
	}

	elapsed := opts.SamplePeriod
	u.mu.Lock()
	if !u.stats.LastSample.IsZero() {
		elapsed = now.Sub(u.stats.LastSample)
	}
	u.mu.Unlock()

	decision := u.engine.Evaluate(temperature, elapsed)
	u.log.V(4).Info("sample evaluated", "temperature", temperature, "elapsed", elapsed,
		"action", decision.Action, "changed", decision.Changed)
	if !decision.Changed {
		u.engine.Reassert()
	}

	u.record(func(s *Stats) {
		s.Ticks++
		s.LastTick = now
		s.LastSample = now
		s.LastTemperature = temperature
		s.HasTemperature = true
	})
}

func (u *updaterImpl) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.stats
}

func (u *updaterImpl) record(f func(s *Stats)) {
	u.mu.Lock()
	defer u.mu.Unlock()

	f(&u.stats)
}
