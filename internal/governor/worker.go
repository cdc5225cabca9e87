package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var (
	testHookStopLoop func() bool
)

// Worker runs the Updater on every sample period until stopped.
type Worker interface {
	UpdateOpts(opts *Opts)
	Stop()
}

type workerImpl struct {
	opts       atomic.Pointer[Opts]
	cancelFunc func()
	waitGroup  sync.WaitGroup
	updater    Updater
}

func NewWorker(updater Updater, opts *Opts) Worker {
	ctx, cancelFunc := context.WithCancel(context.Background())

	worker := &workerImpl{
		cancelFunc: cancelFunc,
		waitGroup:  sync.WaitGroup{},
		updater:    updater,
	}

	worker.opts.Store(opts)
	worker.waitGroup.Add(1)

	go worker.runLoop(ctx)

	return worker
}

func (w *workerImpl) UpdateOpts(opts *Opts) {
	w.opts.Store(opts)
}

// Stop cancels the pending run and waits for an in-flight update to finish.
func (w *workerImpl) Stop() {
	w.cancelFunc()
	w.waitGroup.Wait()
}

func (w *workerImpl) runLoop(ctx context.Context) {
	defer w.waitGroup.Done()

	wait := w.opts.Load().StartDelay
	for {
		if testHookStopLoop != nil {
			if testHookStopLoop() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			opts := w.opts.Load()
			w.updater.Update(opts)
			wait = opts.SamplePeriod
		}
	}
}
