package main

import (
	"github.com/spf13/cobra"
)

var collectCountries []string

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect, normalize and persist policies, then detect changes",
	Example: `  policywatch collect
  policywatch collect --country US --country CA`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.RunCollection(cmd.Context(), collectCountries)

		return printResult(cmd, res, err)
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringVar(&markdownPath, "markdown", "", "Also write a signed markdown report to this path")
	collectCmd.Flags().StringSliceVar(&collectCountries, "country", nil, "Country codes to collect (default: all configured)")
}
