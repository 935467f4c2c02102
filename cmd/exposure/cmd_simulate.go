package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// simulateCmd implements 'exposure simulate'
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Sweep hypothetical index moves across a portfolio file",
	Long: `Reprice the portfolio under each index move and print the curve.
Each stock and option underlying moves by index change times its beta.

Index changes come from --changes, else the file's index_changes, else
-30% to +30% in 5% steps.

Example usage:
  exposure simulate -f portfolio.yaml
  exposure simulate -f portfolio.yaml --changes=-0.2,-0.1,0,0.1,0.2`,
	RunE: runSimulate,
}

var changesFlag []float64

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Float64SliceVar(&changesFlag, "changes", nil, "Index changes as fractions (e.g. -0.1,0,0.1)")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	eng, pf, err := setup()
	if err != nil {
		return err
	}
	changes := changesFlag
	if len(changes) == 0 {
		changes = pf.IndexChanges
	}
	curve, err := eng.Simulate(cmd.Context(), pf.Positions, changes)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), curve)
}
