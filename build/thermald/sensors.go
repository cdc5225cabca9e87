package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AMDEPYC/thermal-governor/internal/sensor"
)

func newSensorsCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sensors",
		Short: "List the sensors of the configured source with their current reading.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			log := global.newLogger(cfg)
			src, err := sensor.New(cfg.Sensor.Source, cfg.Sensor.Root, log.WithName("sensor"))
			if err != nil {
				return err
			}
			if closer, ok := src.(interface{ Close() }); ok {
				defer closer.Close()
			}

			return printSensors(cmd.OutOrStdout(), src, cfg.Sensor.ID)
		},
	}
}

// printSensors marks the sensor the governor samples with an asterisk.
func printSensors(out io.Writer, src sensor.Source, selected int) error {
	var keys []string
	if hwmon, ok := src.(*sensor.HwmonSource); ok {
		keys = hwmon.Keys()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTEMPERATURE\t")
	for _, id := range src.Sensors() {
		name := fmt.Sprintf("%s%d", sensor.KindThermalZone, id)
		if id < len(keys) {
			name = keys[id]
		}

		reading := "unreadable"
		if temp, err := src.ReadTemperature(id); err == nil {
			reading = fmt.Sprintf("%d°C", temp)
		}

		marker := ""
		if id == selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, name, reading, marker)
	}
	return w.Flush()
}
