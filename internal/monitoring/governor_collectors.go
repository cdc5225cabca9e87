package monitoring

import (
	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/thermal-governor/internal/governor"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

// GovernorSource groups the live objects the governor collectors read from.
type GovernorSource struct {
	State     *thermal.ThrottleState
	Threshold *thermal.Threshold
	Stats     func() governor.Stats
}

// CPUFreqHost is the part of cpufreq.SysfsPolicyHost the per-CPU collector needs.
type CPUFreqHost interface {
	OnlineUnits() ([]int, error)
	Policy(cpu int) (thermal.Policy, error)
}

func RegisterGovernorCollectors(reg prom.Registerer, src GovernorSource, logger logr.Logger) {
	logger = logger.WithName(governorSubsystem)
	logger.V(4).Info("registering governor collectors")

	reg.MustRegister(
		newGaugeCollector(
			prom.BuildFQName(promNamespace, governorSubsystem, "ceiling_khz"),
			"Gauge of the frequency ceiling currently imposed, absent when unrestricted",
			func() (uint, bool) {
				ceiling := src.State.Ceiling()
				return ceiling, ceiling != thermal.MaxCeiling
			},
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, governorSubsystem, "time_left_seconds"),
			"Gauge of the remaining hold time of the current ceiling",
			func() (float64, bool) {
				return src.State.Snapshot().TimeLeft.Seconds(), true
			},
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, governorSubsystem, "throttling"),
			"Whether the governor is currently throttling",
			func() (int, bool) {
				if src.State.Snapshot().Throttling {
					return 1, true
				}
				return 0, true
			},
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, governorSubsystem, "threshold_celsius"),
			"Gauge of the baseline temperature threshold",
			func() (int64, bool) {
				return src.Threshold.Get(), true
			},
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, sensorSubsystem, "temperature_celsius"),
			"Gauge of the last successful temperature sample",
			func() (int64, bool) {
				stats := src.Stats()
				return stats.LastTemperature, stats.HasTemperature
			},
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, sensorSubsystem, "skipped_samples"),
			"Number of ticks where the sensor could not be read",
			func() (uint64, bool) {
				return src.Stats().SkippedSamples, true
			},
		),
	)
}

func RegisterCPUFreqCollectors(reg prom.Registerer, host CPUFreqHost, logger logr.Logger) {
	logger = logger.WithName(cpufreqSubsystem)

	reg.MustRegister(
		newPerCPUCollector(
			prom.BuildFQName(promNamespace, cpufreqSubsystem, "scaling_max_khz"),
			"Gauge of the effective scaling_max_freq of a CPU",
			prom.GaugeValue,
			host.OnlineUnits,
			func(cpu int) (uint, error) {
				policy, err := host.Policy(cpu)
				return policy.Max, err
			},
			logger.WithValues(logNameKey, "scaling_max_khz"),
		),
		newPerCPUCollector(
			prom.BuildFQName(promNamespace, cpufreqSubsystem, "scaling_min_khz"),
			"Gauge of the effective scaling_min_freq of a CPU",
			prom.GaugeValue,
			host.OnlineUnits,
			func(cpu int) (uint, error) {
				policy, err := host.Policy(cpu)
				return policy.Min, err
			},
			logger.WithValues(logNameKey, "scaling_min_khz"),
		),
	)
}
