package governor

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/thermal-governor/internal/sensor"
)

// Func definitions for unit testing
var (
	newWorkerFunc = NewWorker
)

// Governor owns the scheduler loop. Start blocks until the context is done and
// returns once the loop has fully stopped.
type Governor interface {
	Start(ctx context.Context) error
	UpdateOpts(opts Opts) error
	Opts() Opts
	Stats() Stats
}

type governorImpl struct {
	updater Updater
	log     logr.Logger

	mu     sync.Mutex
	opts   Opts
	worker Worker
}

// NewGovernor validates the sensor id against src before anything is scheduled;
// an invalid id is a configuration error.
func NewGovernor(src sensor.Source, engine Evaluator, opts Opts, log logr.Logger) (Governor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := sensor.ValidateSensorID(src, opts.SensorID); err != nil {
		return nil, err
	}

	return &governorImpl{
		updater: NewUpdater(src, engine, log.WithName("updater")),
		log:     log,
		opts:    opts,
	}, nil
}

func (g *governorImpl) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.worker != nil {
		g.mu.Unlock()
		return fmt.Errorf("governor already started")
	}

	opts := g.opts
	g.log.Info("starting scheduler loop", "sensor", opts.SensorID, "samplePeriod", opts.SamplePeriod)
	worker := newWorkerFunc(g.updater, &opts)
	g.worker = worker
	g.mu.Unlock()

	<-ctx.Done()
	g.stop(worker)
	return nil
}

func (g *governorImpl) stop(worker Worker) {
	g.log.V(4).Info("stopping scheduler loop")
	worker.Stop()
	g.log.Info("scheduler loop stopped")
}

// UpdateOpts changes the sample period of a running loop. The sensor id is fixed
// at startup.
func (g *governorImpl) UpdateOpts(opts Opts) error {
	if err := opts.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if opts.SensorID != g.opts.SensorID {
		return fmt.Errorf("sensor id can not be changed at runtime")
	}

	prev := g.opts.SamplePeriod
	g.opts = opts
	if g.worker != nil {
		g.worker.UpdateOpts(&opts)
	}
	g.log.Info("scheduler options updated", "samplePeriod", opts.SamplePeriod, "previous", prev)
	return nil
}

func (g *governorImpl) Opts() Opts {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.opts
}

func (g *governorImpl) Stats() Stats {
	return g.updater.Stats()
}
