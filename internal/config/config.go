// Package config loads the daemon configuration from a YAML file, optional
// .env files and THERMALD_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AMDEPYC/thermal-governor/internal/cpufreq"
	"github.com/AMDEPYC/thermal-governor/internal/governor"
	"github.com/AMDEPYC/thermal-governor/internal/sensor"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

const (
	EnvThreshold     = "THERMALD_THRESHOLD"
	EnvSensorID      = "THERMALD_SENSOR_ID"
	EnvSensorSource  = "THERMALD_SENSOR_SOURCE"
	EnvSamplePeriod  = "THERMALD_SAMPLE_PERIOD"
	EnvListenAddress = "THERMALD_LISTEN_ADDRESS"
	EnvJournal       = "THERMALD_JOURNAL"
	EnvLogLevel      = "THERMALD_LOG_LEVEL"

	DefaultThreshold     int64 = 70
	DefaultListenAddress       = "127.0.0.1:9470"
	maxLogLevel                = 5
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Sensor        SensorConfig  `yaml:"sensor"`
	Threshold     int64         `yaml:"threshold"`
	SamplePeriod  time.Duration `yaml:"samplePeriod"`
	StartDelay    time.Duration `yaml:"startDelay"`
	CPUFreq       CPUFreqConfig `yaml:"cpufreq"`
	Levels        []LevelConfig `yaml:"levels"`
	ListenAddress string        `yaml:"listenAddress"`
	// Journal is the path of the SQLite transition journal; empty disables it.
	Journal string    `yaml:"journal"`
	Log     LogConfig `yaml:"log"`
}

type SensorConfig struct {
	Source string `yaml:"source"`
	ID     int    `yaml:"id"`
	// Root of the thermal_zone tree, only used by the thermal_zone source.
	Root string `yaml:"root"`
}

type CPUFreqConfig struct {
	Root string `yaml:"root"`
	// UserMaxFreq caps scaling_max_freq independently of the thermal ceiling, 0 means hardware max.
	UserMaxFreq uint `yaml:"userMaxFreq"`
}

type LevelConfig struct {
	Diff     uint          `yaml:"diff"`
	Freq     uint          `yaml:"freq"`
	HoldTime time.Duration `yaml:"holdTime"`
}

type LogConfig struct {
	Level       int    `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	levels := thermal.DefaultLevels()
	levelConfigs := make([]LevelConfig, 0, len(levels))
	for _, level := range levels {
		levelConfigs = append(levelConfigs, LevelConfig{Diff: level.Diff, Freq: level.Freq, HoldTime: level.HoldTime})
	}

	return &Config{
		Sensor: SensorConfig{
			Source: sensor.KindThermalZone,
			ID:     0,
			Root:   sensor.DefaultThermalRoot,
		},
		Threshold:    DefaultThreshold,
		SamplePeriod: governor.DefaultSamplePeriod,
		StartDelay:   governor.DefaultStartDelay,
		CPUFreq: CPUFreqConfig{
			Root: cpufreq.DefaultCPURoot,
		},
		Levels:        levelConfigs,
		ListenAddress: DefaultListenAddress,
		Log: LogConfig{
			MaxSizeMB:   20,
			MaxBackups:  3,
			Development: true,
		},
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, loads envFiles into the process environment and finally applies the
// THERMALD_* variables. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("loading env files: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvThreshold); ok {
		threshold, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvThreshold, err)
		}
		c.Threshold = threshold
	}
	if v, ok := os.LookupEnv(EnvSensorID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvSensorID, err)
		}
		c.Sensor.ID = id
	}
	if v, ok := os.LookupEnv(EnvSensorSource); ok {
		c.Sensor.Source = v
	}
	if v, ok := os.LookupEnv(EnvSamplePeriod); ok {
		period, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvSamplePeriod, err)
		}
		c.SamplePeriod = period
	}
	if v, ok := os.LookupEnv(EnvListenAddress); ok {
		c.ListenAddress = v
	}
	if v, ok := os.LookupEnv(EnvJournal); ok {
		c.Journal = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		level, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvLogLevel, err)
		}
		c.Log.Level = level
	}
	return nil
}

// Validate checks everything that can be checked without touching the
// hardware. The sensor id is checked against the actual source at startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Sensor.Source {
	case sensor.KindThermalZone, sensor.KindHwmon:
	default:
		errs = append(errs, fmt.Errorf("unknown sensor source %q", c.Sensor.Source))
	}
	if c.Sensor.ID < 0 || c.Sensor.ID >= sensor.MaxSensors {
		errs = append(errs, fmt.Errorf("sensor id %d out of range [0, %d)", c.Sensor.ID, sensor.MaxSensors))
	}
	if c.SamplePeriod <= 0 {
		errs = append(errs, fmt.Errorf("sample period must be positive, got %s", c.SamplePeriod))
	}
	if c.StartDelay < 0 {
		errs = append(errs, fmt.Errorf("start delay must not be negative, got %s", c.StartDelay))
	}
	if c.Log.Level < 0 || c.Log.Level > maxLogLevel {
		errs = append(errs, fmt.Errorf("log level %d out of range [0, %d]", c.Log.Level, maxLogLevel))
	}
	if err := c.LevelTable().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) LevelTable() thermal.LevelTable {
	table := make(thermal.LevelTable, 0, len(c.Levels))
	for _, level := range c.Levels {
		table = append(table, thermal.ThermalLevel{Diff: level.Diff, Freq: level.Freq, HoldTime: level.HoldTime})
	}
	return table
}

func (c *Config) GovernorOpts() governor.Opts {
	return governor.Opts{
		SensorID:     c.Sensor.ID,
		SamplePeriod: c.SamplePeriod,
		StartDelay:   c.StartDelay,
	}
}
