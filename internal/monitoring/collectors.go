package monitoring

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/exp/constraints"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "thermald"

	LogTopName         string = "monitoring"
	governorSubsystem  string = "governor"
	sensorSubsystem    string = "sensor"
	cpufreqSubsystem   string = "cpufreq"
	logNameKey         string = "name"
	transitionLabelKey string = "action"
)

// Registry is the registry the daemon serves on /metrics.
var Registry = prom.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newGaugeCollector builds a collector for a single unlabelled value.
// readFunc reports false when there is nothing to export yet.
func newGaugeCollector[T number](metricName, metricDesc string, readFunc func() (T, bool)) prom.Collector {
	desc := prom.NewDesc(metricName, metricDesc, nil, nil)

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			if val, ok := readFunc(); ok {
				ch <- prom.MustNewConstMetric(desc, prom.GaugeValue, float64(val))
			}
		},
	}
}

// newPerCPUCollector is generic factory of prometheus Collectors for metrics that are CPU bound.
// listFunc returns the CPUs online at collection time.
// readFunc is called once per online CPU; CPUs that went offline in between are skipped.
// log is Logger that should have all Names, KeysValues and other... already attached.
// return prometheus Collector that is ready for registration
func newPerCPUCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	listFunc func() ([]int, error), readFunc func(cpu int) (T, error), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		metricName,
		metricDesc,
		[]string{"cpu"},
		nil,
	)
	log.V(4).Info("New perCPU prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			cpus, err := listFunc()
			if err != nil {
				log.V(5).Info(fmt.Sprintf("error listing online cpus, err: %v", err))
				return
			}
			for _, cpu := range cpus {
				log.V(5).Info("Collecting metrics for prometheus", "cpu", cpu)
				val, err := readFunc(cpu)
				if errors.Is(err, thermal.ErrUnitOffline) {
					continue
				}
				if err != nil {
					log.V(5).Info(fmt.Sprintf("error reading metric value, err: %v", err), "cpu", cpu)
					continue
				}
				ch <- prom.MustNewConstMetric(
					desc,
					metricType,
					float64(val),
					strconv.Itoa(cpu),
				)
			}
		},
	}
}
