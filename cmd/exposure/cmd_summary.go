package main

import "github.com/spf13/cobra"

// summaryCmd implements 'exposure summary'
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Build the exposure summary for a portfolio file",
	Long: `Price every position in the portfolio file and print the summary:
long, short and options-only breakdowns, net and beta-adjusted exposure,
the cash-like bucket, and any excluded positions.

Example usage:
  exposure summary -f portfolio.yaml
  exposure summary -f portfolio.json --as-of 2025-01-02`,
	RunE: runSummary,
}

var withGroups bool

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().BoolVar(&withGroups, "groups", false, "Include per-ticker groups in the output")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	eng, pf, err := setup()
	if err != nil {
		return err
	}
	rep, err := eng.Summarize(cmd.Context(), pf.Positions)
	if err != nil {
		return err
	}
	if withGroups {
		return writeJSON(cmd.OutOrStdout(), rep)
	}
	return writeJSON(cmd.OutOrStdout(), rep.Summary)
}
