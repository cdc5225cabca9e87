package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"golang.org/x/sync/errgroup"

	"github.com/AMDEPYC/thermal-governor/internal/config"
	"github.com/AMDEPYC/thermal-governor/internal/cpufreq"
	"github.com/AMDEPYC/thermal-governor/internal/governor"
	"github.com/AMDEPYC/thermal-governor/internal/journal"
	"github.com/AMDEPYC/thermal-governor/internal/monitoring"
	"github.com/AMDEPYC/thermal-governor/internal/sensor"
	"github.com/AMDEPYC/thermal-governor/internal/server"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

type runFlags struct {
	sensorID      int
	sensorSource  string
	threshold     int64
	samplePeriod  time.Duration
	listenAddress string
	journal       string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the governor until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := global.newLogger(cfg)
			setupLog := log.WithName("setup")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runDaemon(ctx, cfg, monitoring.Registry, log); err != nil {
				setupLog.Error(err, "problem running governor")
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flags.sensorID, "sensor-id", 0, "Sensor to sample.")
	cmd.Flags().StringVar(&flags.sensorSource, "sensor-source", "",
		fmt.Sprintf("Sensor source, %q or %q.", sensor.KindThermalZone, sensor.KindHwmon))
	cmd.Flags().Int64Var(&flags.threshold, "threshold", 0, "Baseline threshold in degrees Celsius.")
	cmd.Flags().DurationVar(&flags.samplePeriod, "sample-period", 0, "Time between two samples.")
	cmd.Flags().StringVar(&flags.listenAddress, "listen", "", "Address of the control surface, empty disables it.")
	cmd.Flags().StringVar(&flags.journal, "journal", "", "Path of the SQLite transition journal.")

	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("sensor-id") {
		cfg.Sensor.ID = f.sensorID
	}
	if changed("sensor-source") {
		cfg.Sensor.Source = f.sensorSource
	}
	if changed("threshold") {
		cfg.Threshold = f.threshold
	}
	if changed("sample-period") {
		cfg.SamplePeriod = f.samplePeriod
	}
	if changed("listen") {
		cfg.ListenAddress = f.listenAddress
	}
	if changed("journal") {
		cfg.Journal = f.journal
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, reg *prom.Registry, log logr.Logger,
	hostOpts ...cpufreq.HostOption,
) error {
	setupLog := log.WithName("setup")

	src, err := sensor.New(cfg.Sensor.Source, cfg.Sensor.Root, log.WithName("sensor"))
	if err != nil {
		return fmt.Errorf("unable to create sensor source: %w", err)
	}
	if closer, ok := src.(interface{ Close() }); ok {
		defer closer.Close()
	}

	state := thermal.NewThrottleState()
	threshold := thermal.NewThreshold(cfg.Threshold)
	host := cpufreq.NewSysfsPolicyHost(
		thermal.NewPolicyEnforcer(state),
		log.WithName("cpufreq"),
		append([]cpufreq.HostOption{
			cpufreq.WithRoot(cfg.CPUFreq.Root),
			cpufreq.WithUserMaxFreq(cfg.CPUFreq.UserMaxFreq),
		}, hostOpts...)...,
	)
	teardown := &cpufreqTeardown{host: host, state: state, log: setupLog}
	atexit.Register(func() {
		if err := teardown.restore(); err != nil {
			setupLog.Error(err, "unable to restore cpufreq limits")
		}
	})

	engineOpts := []thermal.EngineOption{
		thermal.WithObserver(monitoring.NewTransitionMetrics(reg)),
	}

	var jrnl *journal.Journal
	if cfg.Journal != "" {
		jrnl, err = journal.Open(cfg.Journal, "", log.WithName("journal"))
		if err != nil {
			return fmt.Errorf("unable to open transition journal: %w", err)
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				setupLog.Error(err, "unable to close transition journal")
			}
		}()
		engineOpts = append(engineOpts, thermal.WithObserver(jrnl))
		setupLog.Info("recording transitions", "path", cfg.Journal, "run", jrnl.RunID())
	}

	engine, err := thermal.NewEngine(state, cfg.LevelTable(), threshold, host, log.WithName("engine"), engineOpts...)
	if err != nil {
		return fmt.Errorf("unable to create decision engine: %w", err)
	}

	gov, err := governor.NewGovernor(src, engine, cfg.GovernorOpts(), log.WithName("governor"))
	if err != nil {
		return fmt.Errorf("unable to create governor: %w", err)
	}

	monitoring.RegisterGovernorCollectors(reg, monitoring.GovernorSource{
		State:     state,
		Threshold: threshold,
		Stats:     gov.Stats,
	}, log.WithName(monitoring.LogTopName))
	monitoring.RegisterCPUFreqCollectors(reg, host, log.WithName(monitoring.LogTopName))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gov.Start(gctx)
	})

	if cfg.ListenAddress != "" {
		srvOpts := server.Options{
			Address:      cfg.ListenAddress,
			SamplePeriod: cfg.SamplePeriod,
			State:        state,
			Levels:       engine.Levels(),
			Threshold:    threshold,
			Stats:        gov.Stats,
			Scheduler:    gov,
			Gatherer:     reg,
		}
		if jrnl != nil {
			srvOpts.Journal = jrnl
		}
		srv, err := server.New(srvOpts, log.WithName("server"))
		if err != nil {
			return fmt.Errorf("unable to create control surface: %w", err)
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	setupLog.Info("starting governor", "sensor", cfg.Sensor.ID, "source", cfg.Sensor.Source,
		"threshold", cfg.Threshold, "samplePeriod", cfg.SamplePeriod)
	runErr := g.Wait()

	return errors.Join(runErr, teardown.restore())
}

// cpufreqTeardown hands the CPUs back to the user policy once, whichever of
// the normal return path or the exit handler gets there first.
type cpufreqTeardown struct {
	once  sync.Once
	host  *cpufreq.SysfsPolicyHost
	state *thermal.ThrottleState
	log   logr.Logger
	err   error
}

func (t *cpufreqTeardown) restore() error {
	t.once.Do(func() {
		t.log.Info("restoring cpufreq limits")
		t.err = t.host.Restore()
		t.state.Reset()
	})
	return t.err
}
