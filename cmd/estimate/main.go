// Package main provides the estimate CLI which runs Kalman filters over simulated scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/bmslab/go-estimate/scenario"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "estimate",
		Short:        "Run Kalman filters over simulated systems",
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a filter over a scenario",
		Long: `Run simulates the selected scenario, estimates its state with the selected
filter and prints the estimation error. Snapshots can be exported to CSV and plotted.`,
		RunE: runEstimate,
	}
	runCmd.Flags().String("scenario", "pose", "Scenario name (see scenarios command)")
	runCmd.Flags().String("filter", scenario.UKF, "Filter: kf, ekf, iekf, ukf")
	runCmd.Flags().String("config", "", "Run configuration YAML file")
	runCmd.Flags().Uint64("seed", 0, "Simulation seed (0 = scenario default)")
	runCmd.Flags().Int("steps", 0, "Number of steps (0 = scenario default)")
	runCmd.Flags().String("csv", "", "Export snapshots to CSV file")
	runCmd.Flags().String("plot", "", "Save plot to PNG file")
	runCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	runCmd.Flags().Float64("alpha", 0, "UKF alpha (0 = scenario default)")
	runCmd.Flags().Float64("beta", 0, "UKF beta (0 = scenario default)")
	runCmd.Flags().Float64("kappa", 0, "UKF kappa (0 = scenario default)")
	runCmd.Flags().Int("iterations", 0, "IEKF iterations (0 = default)")
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "scenarios",
		Short: "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range scenario.Names() {
				s, err := scenario.New(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s (steps=%d dt=%g)\n", name, s.Description, s.Config.Steps, s.Config.Dt)
			}
			return nil
		},
	})

	return rootCmd
}
