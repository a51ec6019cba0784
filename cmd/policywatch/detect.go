package main

import (
	"github.com/spf13/cobra"
)

var detectCountries []string

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Fetch fresh policies and compare them with the last snapshot without committing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.DetectChanges(cmd.Context(), detectCountries)

		return printResult(cmd, res, err)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().StringVar(&markdownPath, "markdown", "", "Also write a signed markdown report to this path")
	detectCmd.Flags().StringSliceVar(&detectCountries, "country", nil, "Country codes to check (default: all configured)")
}
