package main

import (
	"github.com/spf13/cobra"
)

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Run a full collection and write per-country analyses and the comprehensive summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.RunWeekly(cmd.Context())

		return printResult(cmd, res, err)
	},
}

func init() {
	rootCmd.AddCommand(weeklyCmd)
	weeklyCmd.Flags().StringVar(&markdownPath, "markdown", "", "Also write a signed markdown report to this path")
}
