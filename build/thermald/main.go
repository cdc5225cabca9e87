/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/AMDEPYC/thermal-governor/internal/config"
	"github.com/AMDEPYC/thermal-governor/internal/logging"
)

type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   int
	logFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "thermald",
		Short: "Closed-loop CPU thermal governor.",
		Long: `thermald samples a temperature sensor on a fixed period and caps the ` +
			`maximum CPU frequency of every online CPU according to a table of ` +
			`thermal levels above a baseline threshold.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path of the YAML configuration file.")
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil,
		"Files with THERMALD_* variables loaded before the environment is read.")
	rootCmd.PersistentFlags().IntVar(&flags.logLevel, "log-level", -1,
		"Log verbosity, 4 logs every decision and 5 every policy update. Overrides the config file.")
	rootCmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "Also write logs to this file, rotated by size.")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newLevelsCmd(flags),
		newSensorsCmd(flags),
		newSimulateCmd(flags),
		newStatusCmd(flags),
		newSetThresholdCmd(flags),
		newSetSamplePeriodCmd(flags),
	)

	return rootCmd
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	return config.Load(f.configPath, f.envFiles...)
}

func (f *globalFlags) newLogger(cfg *config.Config) logr.Logger {
	opts := logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
	}
	if f.logLevel >= 0 {
		opts.Level = f.logLevel
	}
	if f.logFile != "" {
		opts.File = f.logFile
	}
	return logging.New(opts)
}
