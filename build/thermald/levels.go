package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

func newLevelsCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "Print the effective thermal level table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			return printLevels(cmd.OutOrStdout(), cfg.LevelTable(), cfg.Threshold)
		},
	}
}

func printLevels(out io.Writer, levels thermal.LevelTable, threshold int64) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tABOVE\tCEILING\tHOLD")
	for i, level := range levels {
		fmt.Fprintf(w, "%d\t>%d°C\t%s\t%s\n", i, threshold+int64(level.Diff), formatFreq(level.Freq), level.HoldTime)
	}
	return w.Flush()
}

func formatFreq(khz uint) string {
	if khz == thermal.MaxCeiling {
		return "unrestricted"
	}
	return humanize.SIWithDigits(float64(khz)*1e3, 3, "Hz")
}
