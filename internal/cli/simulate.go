package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"agency-sales-monitor/internal/app"
)

var (
	simulateIterations int
	simulateSeed       int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run synthetic monitoring iterations against the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateIterations <= 0 {
			return errors.New("--iterations must be greater than zero")
		}

		opts := app.SimulateOptions{
			Iterations: simulateIterations,
			Seed:       simulateSeed,
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateIterations, "iterations", 3, "Number of iterations to simulate")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 1, "Random seed for the synthetic portal")
}
