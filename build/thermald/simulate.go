package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/AMDEPYC/thermal-governor/internal/config"
	"github.com/AMDEPYC/thermal-governor/internal/sensor"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

// simulatedHost stands in for cpufreq with a single CPU that keeps whatever
// range the enforcer hands back.
type simulatedHost struct {
	enforcer *thermal.PolicyEnforcer
	hwMin    uint
	hwMax    uint
	policy   thermal.Policy
}

func (h *simulatedHost) OnlineUnits() ([]int, error) {
	return []int{0}, nil
}

func (h *simulatedHost) RequestPolicyReevaluation(unit int) error {
	h.policy = h.enforcer.Clamp(thermal.Policy{Unit: unit, Min: h.hwMin, Max: h.hwMax}, h.hwMin, h.hwMax)
	return nil
}

type simulateFlags struct {
	temps []int64
	tick  time.Duration
	hwMin uint
	hwMax uint
}

func newSimulateCmd(global *globalFlags) *cobra.Command {
	flags := &simulateFlags{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the decision engine against scripted temperatures.",
		Example: `  thermald simulate --temps 76,68,68,68,68
  thermald simulate --config thermald.yaml --temps 95,95,60 --tick 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(flags.temps) == 0 {
				return fmt.Errorf("--temps is required")
			}
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			return simulate(cmd.OutOrStdout(), cfg, flags, logr.Discard())
		},
	}

	cmd.Flags().Int64SliceVar(&flags.temps, "temps", nil, "Comma separated temperature samples in degrees Celsius.")
	cmd.Flags().DurationVar(&flags.tick, "tick", 500*time.Millisecond, "Time between two samples.")
	cmd.Flags().UintVar(&flags.hwMin, "hw-min", 300000, "Hardware minimum frequency of the simulated CPU in kHz.")
	cmd.Flags().UintVar(&flags.hwMax, "hw-max", 2265600, "Hardware maximum frequency of the simulated CPU in kHz.")

	return cmd
}

func simulate(out io.Writer, cfg *config.Config, flags *simulateFlags, log logr.Logger) error {
	state := thermal.NewThrottleState()
	host := &simulatedHost{
		enforcer: thermal.NewPolicyEnforcer(state),
		hwMin:    flags.hwMin,
		hwMax:    flags.hwMax,
		policy:   thermal.Policy{Min: flags.hwMin, Max: flags.hwMax},
	}
	engine, err := thermal.NewEngine(state, cfg.LevelTable(), thermal.NewThreshold(cfg.Threshold), host, log)
	if err != nil {
		return err
	}

	src := sensor.NewStaticSource(flags.temps...)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICK\tTEMP\tACTION\tCHANGED\tCEILING\tHOLD LEFT\tEFFECTIVE MAX")
	for i := range flags.temps {
		temperature, err := src.ReadTemperature(0)
		if err != nil {
			return err
		}
		decision := engine.Evaluate(temperature, flags.tick)
		if !decision.Changed {
			engine.Reassert()
		}

		snapshot := state.Snapshot()
		fmt.Fprintf(w, "%d\t%d°C\t%s\t%t\t%s\t%s\t%s\n", i, temperature, decision.Action, decision.Changed,
			formatFreq(snapshot.Ceiling), snapshot.TimeLeft, formatFreq(host.policy.Max))
	}
	return w.Flush()
}
