package governor

import (
	"fmt"
	"time"
)

const (
	DefaultSamplePeriod time.Duration = 500 * time.Millisecond
	DefaultStartDelay   time.Duration = 50 * time.Millisecond
)

type Opts struct {
	SensorID     int
	SamplePeriod time.Duration
	StartDelay   time.Duration
}

func (o *Opts) validate() error {
	if o.SamplePeriod <= 0 {
		return fmt.Errorf("sample period must be positive, got %s", o.SamplePeriod)
	}
	if o.StartDelay < 0 {
		return fmt.Errorf("start delay must not be negative, got %s", o.StartDelay)
	}
	return nil
}

// Stats describes the recent activity of the scheduler loop.
type Stats struct {
	Ticks           uint64    `json:"ticks"`
	SkippedSamples  uint64    `json:"skippedSamples"`
	LastTick        time.Time `json:"lastTick"`
	LastSample      time.Time `json:"lastSample"`
	LastTemperature int64     `json:"lastTemperature"`
	HasTemperature  bool      `json:"hasTemperature"`
}
