package thermal

import "sync/atomic"

// Threshold is the baseline temperature in degrees Celsius. It can be changed at
// any time from outside the governor; the Engine reads it once per evaluation.
type Threshold struct {
	value atomic.Int64
}

func NewThreshold(celsius int64) *Threshold {
	t := &Threshold{}
	t.value.Store(celsius)
	return t
}

func (t *Threshold) Get() int64 {
	return t.value.Load()
}

func (t *Threshold) Set(celsius int64) {
	t.value.Store(celsius)
}
