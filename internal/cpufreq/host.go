package cpufreq

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/go-logr/logr"
	"github.com/tklauser/numcpus"

	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

// Func definitions for unit testing
var (
	listOnlineFunc = numcpus.ListOnline
)

// Clamper fits a requested policy under the governor ceiling.
type Clamper interface {
	Clamp(req thermal.Policy, lower, upper uint) thermal.Policy
}

// SysfsPolicyHost applies frequency policies through the cpufreq sysfs
// interface. The first time a CPU is seen its scaling range is recorded as the
// user requested policy; every re-evaluation clamps that range and writes the
// result to scaling_min_freq/scaling_max_freq. A scaling value that differs
// from what the host last wrote was changed by the user and replaces the
// recorded request.
type SysfsPolicyHost struct {
	root       string
	maxFreq    uint
	enforcer   Clamper
	log        logr.Logger
	listOnline func() ([]int, error)

	mu         sync.Mutex
	userPolicy map[int]thermal.Policy
	written    map[int]thermal.Policy
}

type HostOption func(*SysfsPolicyHost)

// WithRoot overrides /sys/devices/system/cpu.
func WithRoot(root string) HostOption {
	return func(h *SysfsPolicyHost) {
		if root != "" {
			h.root = root
		}
	}
}

// WithUserMaxFreq caps the requested upper bound of every CPU; 0 keeps the
// range found on the system.
func WithUserMaxFreq(freq uint) HostOption {
	return func(h *SysfsPolicyHost) {
		h.maxFreq = freq
	}
}

// WithOnlineFunc replaces the online CPU listing, which otherwise always comes
// from the running system even when the root is overridden.
func WithOnlineFunc(f func() ([]int, error)) HostOption {
	return func(h *SysfsPolicyHost) {
		h.listOnline = f
	}
}

func NewSysfsPolicyHost(enforcer Clamper, log logr.Logger, opts ...HostOption) *SysfsPolicyHost {
	host := &SysfsPolicyHost{
		root:       DefaultCPURoot,
		enforcer:   enforcer,
		log:        log,
		userPolicy: make(map[int]thermal.Policy),
		written:    make(map[int]thermal.Policy),
	}
	for _, opt := range opts {
		opt(host)
	}

	return host
}

func (h *SysfsPolicyHost) OnlineUnits() ([]int, error) {
	list := listOnlineFunc
	if h.listOnline != nil {
		list = h.listOnline
	}
	cpus, err := list()
	if err != nil {
		return nil, fmt.Errorf("failed to list online CPUs: %w", err)
	}
	return cpus, nil
}

func (h *SysfsPolicyHost) RequestPolicyReevaluation(cpu int) error {
	hwMin, err := h.read(cpu, cpuInfoMinFreq)
	if err != nil {
		return err
	}
	hwMax, err := h.read(cpu, cpuInfoMaxFreq)
	if err != nil {
		return err
	}

	user, err := h.requestedPolicy(cpu, hwMax)
	if err != nil {
		return err
	}

	clamped := h.enforcer.Clamp(user, hwMin, user.Max)
	h.log.V(5).Info("applying policy", "cpu", cpu, "min", clamped.Min, "max", clamped.Max)

	return h.write(cpu, clamped)
}

// Policy returns the range currently written for cpu.
func (h *SysfsPolicyHost) Policy(cpu int) (thermal.Policy, error) {
	minFreq, err := h.read(cpu, scalingMinFreq)
	if err != nil {
		return thermal.Policy{}, err
	}
	maxFreq, err := h.read(cpu, scalingMaxFreq)
	if err != nil {
		return thermal.Policy{}, err
	}

	return thermal.Policy{Unit: cpu, Min: minFreq, Max: maxFreq}, nil
}

// Restore writes the recorded user policy back to every CPU that is still online.
func (h *SysfsPolicyHost) Restore() error {
	h.mu.Lock()
	policies := make([]thermal.Policy, 0, len(h.userPolicy))
	for _, policy := range h.userPolicy {
		policies = append(policies, policy)
	}
	h.mu.Unlock()

	var errs []error
	for _, policy := range policies {
		err := h.write(policy.Unit, policy)
		if errors.Is(err, thermal.ErrUnitOffline) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		h.log.V(4).Info("restored policy", "cpu", policy.Unit, "min", policy.Min, "max", policy.Max)
	}

	return errors.Join(errs...)
}

func (h *SysfsPolicyHost) requestedPolicy(cpu int, hwMax uint) (thermal.Policy, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, err := h.Policy(cpu)
	if err != nil {
		return thermal.Policy{}, err
	}

	policy, known := h.userPolicy[cpu]
	if !known {
		policy = current
	} else if last, ok := h.written[cpu]; ok {
		if current.Min == last.Min && current.Max == last.Max {
			return policy, nil
		}
		if current.Min != last.Min {
			policy.Min = current.Min
		}
		if current.Max != last.Max {
			policy.Max = current.Max
		}
	}
	if policy.Max > hwMax {
		policy.Max = hwMax
	}
	if h.maxFreq != 0 && policy.Max > h.maxFreq {
		policy.Max = h.maxFreq
	}

	if known && policy == h.userPolicy[cpu] {
		return policy, nil
	}
	h.userPolicy[cpu] = policy
	h.log.V(4).Info("recorded user policy", "cpu", cpu, "min", policy.Min, "max", policy.Max)

	return policy, nil
}

// write stores the range, lowering scaling_min_freq first when the new maximum
// is below the current minimum so the kernel never sees min > max.
func (h *SysfsPolicyHost) write(cpu int, policy thermal.Policy) error {
	current, err := h.Policy(cpu)
	if err != nil {
		return err
	}

	order := []struct {
		resource string
		value    uint
		current  uint
	}{
		{scalingMaxFreq, policy.Max, current.Max},
		{scalingMinFreq, policy.Min, current.Min},
	}
	if policy.Max < current.Min {
		order[0], order[1] = order[1], order[0]
	}

	for _, attr := range order {
		if attr.value == attr.current {
			continue
		}
		if err := writeFrequency(h.root, cpu, attr.resource, attr.value); err != nil {
			return h.offline(err)
		}
	}

	h.mu.Lock()
	h.written[cpu] = thermal.Policy{Unit: cpu, Min: policy.Min, Max: policy.Max}
	h.mu.Unlock()

	return nil
}

func (h *SysfsPolicyHost) read(cpu int, resource string) (uint, error) {
	value, err := readFrequency(h.root, cpu, resource)
	if err != nil {
		return 0, h.offline(err)
	}
	return value, nil
}

// offline maps a vanished cpufreq directory to thermal.ErrUnitOffline.
func (h *SysfsPolicyHost) offline(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", thermal.ErrUnitOffline, err)
	}
	return err
}
